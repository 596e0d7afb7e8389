package models

// Role is the viewer's role in a room.
type Role string

const (
	// RoleParticipant is an anonymous student.
	RoleParticipant Role = "participant"
	// RoleInstructor manages the room and is exempt from privacy filtering.
	RoleInstructor Role = "instructor"
)
