package models

import "strings"

// Visibility controls who sees which questions in a room.
type Visibility string

const (
	// VisibilityPublic shows every question to every participant.
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate restricts each participant to their own questions.
	VisibilityPrivate Visibility = "private"
)

// VisibilityFromFlag maps the backend's questionsVisible flag.
func VisibilityFromFlag(questionsVisible bool) Visibility {
	if questionsVisible {
		return VisibilityPublic
	}
	return VisibilityPrivate
}

// RoomState is the lifecycle state of a room.
type RoomState string

const (
	RoomActive RoomState = "active"
	RoomClosed RoomState = "closed"
)

// RoomCodeLength is the length of a room join code.
const RoomCodeLength = 6

// Room is the room metadata the feed reads. Its lifecycle is owned by the backend.
type Room struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	LecturerName string     `json:"lecturer_name,omitempty"`
	Visibility   Visibility `json:"visibility"`
	State        RoomState  `json:"state"`
}

// Closed reports whether the room no longer accepts questions.
func (r Room) Closed() bool { return r.State == RoomClosed }

// NormalizeRoomCode trims and upper-cases a room code.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RoomRecord is a room as sent by the backend.
type RoomRecord struct {
	ID               string `json:"roomId,omitempty"`
	LegacyID         string `json:"_id,omitempty"`
	Code             string `json:"roomCode,omitempty"`
	LegacyCode       string `json:"code,omitempty"`
	Name             string `json:"roomName"`
	LecturerName     string `json:"lecturerName,omitempty"`
	QuestionsVisible bool   `json:"questionsVisible"`
	Status           string `json:"status,omitempty"`
}

// Normalize converts a backend room record.
func (r RoomRecord) Normalize() Room {
	room := Room{
		ID:           r.ID,
		Code:         NormalizeRoomCode(r.Code),
		Name:         r.Name,
		LecturerName: r.LecturerName,
		Visibility:   VisibilityFromFlag(r.QuestionsVisible),
		State:        RoomActive,
	}
	if room.ID == "" {
		room.ID = r.LegacyID
	}
	if room.Code == "" {
		room.Code = NormalizeRoomCode(r.LegacyCode)
	}
	if r.Status == string(RoomClosed) {
		room.State = RoomClosed
	}
	return room
}

// ToRecord converts a Room into its wire shape.
func (r Room) ToRecord() RoomRecord {
	rec := RoomRecord{
		ID:               r.ID,
		Code:             r.Code,
		Name:             r.Name,
		LecturerName:     r.LecturerName,
		QuestionsVisible: r.Visibility != VisibilityPrivate,
		Status:           string(r.State),
	}
	if rec.Status == "" {
		rec.Status = string(RoomActive)
	}
	return rec
}
