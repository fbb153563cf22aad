package dto

// CreateUserRequest is the admin payload for adding a user. Courses are
// enrollments for students and assignments for teachers. Username may be
// omitted for students, in which case it is derived from the roll number.
type CreateUserRequest struct {
	Username string   `json:"username" validate:"omitempty,min=3,max=64"`
	Password string   `json:"password" validate:"required,min=6"`
	FullName string   `json:"full_name" validate:"required"`
	Role     string   `json:"role" validate:"required,oneof=ADMIN TEACHER STUDENT"`
	RollNo   *string  `json:"roll_no,omitempty"`
	Courses  []string `json:"courses,omitempty"`
}

// AssignCoursesRequest replaces a user's course links.
type AssignCoursesRequest struct {
	Courses []string `json:"courses" validate:"required"`
}

// CreateCourseRequest is the admin payload for adding a course.
type CreateCourseRequest struct {
	Code string `json:"code" validate:"required,min=2,max=16"`
	Name string `json:"name" validate:"required"`
}

// ListUsersRequest filters the admin user listing.
type ListUsersRequest struct {
	Role     string `form:"role"`
	Search   string `form:"search"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
