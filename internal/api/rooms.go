package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/qbox-live/qbox/internal/models"
)

// JoinRoom resolves a room code.
func (c *Client) JoinRoom(ctx context.Context, code string) (models.Room, error) {
	var out models.RoomRecord
	body := struct {
		RoomCode string `json:"roomCode"`
	}{RoomCode: models.NormalizeRoomCode(code)}
	if err := c.do(ctx, http.MethodPost, "/rooms/join", nil, body, &out); err != nil {
		return models.Room{}, err
	}
	return out.Normalize(), nil
}

// GetRoom fetches a room by id.
func (c *Client) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var out models.RoomRecord
	if err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, nil, &out); err != nil {
		return models.Room{}, err
	}
	return out.Normalize(), nil
}

// OneTimeRoom is a freshly created ephemeral room with its instructor token.
type OneTimeRoom struct {
	Room  models.Room
	Token string
}

// CreateOneTimeRoom creates an ephemeral room run without an account.
func (c *Client) CreateOneTimeRoom(ctx context.Context, lecturerName string, questionsVisible bool) (OneTimeRoom, error) {
	body := struct {
		LecturerName     string `json:"lecturerName"`
		QuestionsVisible bool   `json:"questionsVisible"`
	}{LecturerName: lecturerName, QuestionsVisible: questionsVisible}
	var out struct {
		Room  models.RoomRecord `json:"room"`
		Token string            `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/rooms/one-time", nil, body, &out); err != nil {
		return OneTimeRoom{}, err
	}
	return OneTimeRoom{Room: out.Room.Normalize(), Token: out.Token}, nil
}

// ToggleVisibility flips a room between public and private.
func (c *Client) ToggleVisibility(ctx context.Context, roomID string) (models.Room, error) {
	var out models.RoomRecord
	if err := c.do(ctx, http.MethodPut, "/rooms/"+url.PathEscape(roomID)+"/toggle-visibility", nil, nil, &out); err != nil {
		return models.Room{}, err
	}
	return out.Normalize(), nil
}

// CloseRoom stops a room from accepting questions.
func (c *Client) CloseRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPut, "/rooms/"+url.PathEscape(roomID)+"/close", nil, nil, nil)
}
