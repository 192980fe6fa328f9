package models

// Assignment is a gradeable unit of coursework with its test suite location on
// the remote worker.
type Assignment struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	SolutionFile string `db:"solution_file" json:"solution_file"`
	TestsDir     string `db:"tests_dir" json:"tests_dir"`
	CommonHeader string `db:"common_header" json:"common_header"`
}

// Ticket binds a user to an assignment through an issue tracker ticket.
type Ticket struct {
	ID           int64  `db:"id" json:"id"`
	Course       string `db:"course" json:"course"`
	User         string `db:"username" json:"user"`
	AssignmentID int64  `db:"assignment_id" json:"assignment_id"`
}
