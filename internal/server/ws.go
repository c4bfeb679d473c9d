package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cityquest/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client messages arriving over the websocket.
const (
	clientMessageJoinLocation  = "join_location"
	clientMessageLeaveLocation = "leave_location"
	clientMessageTaskCreated   = "task_created"
	clientMessageTaskSubmitted = "task_submitted"
)

type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// locationPayload carries the coordinates of a join or leave request.
// Pointers distinguish an absent coordinate from a genuine zero.
type locationPayload struct {
	Lat *float64 `json:"location_lat"`
	Lng *float64 `json:"location_lng"`
}

type taskAnnouncePayload struct {
	TaskID       string  `json:"task_id"`
	Title        string  `json:"title"`
	PointsValue  int64   `json:"points_value"`
	CategoryName string  `json:"category_name"`
	Lat          float64 `json:"location_lat"`
	Lng          float64 `json:"location_lng"`
}

type submissionAnnouncePayload struct {
	TaskID       string `json:"task_id"`
	SubmissionID string `json:"submission_id"`
}

// handleWebsocket authenticates the request, upgrades it, and runs the
// read loop until the client disconnects. Cleanup of hub and cell state
// is synchronous with the disconnect.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("websocket token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionID, err := uuid.NewV7()
	if err != nil {
		_ = socket.Close()
		return
	}
	conn := realtime.NewConn(connectionID.String(), identity.UserID, identity.Admin, socket)
	h.hub.Register(conn)
	go conn.WritePump()

	defer func() {
		h.hub.Unregister(conn.ID)
		h.cells.Drop(conn.ID)
	}()

	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		h.handleClientFrame(conn, frame)
	}
}

func (h *httpHandler) handleClientFrame(conn *realtime.Conn, frame clientFrame) {
	switch frame.Event {
	case clientMessageJoinLocation:
		var location locationPayload
		if err := json.Unmarshal(frame.Data, &location); err != nil {
			return
		}
		if location.Lat == nil || location.Lng == nil {
			// Malformed locations are ignored rather than closing the connection.
			return
		}
		key, members, err := h.cells.Join(conn.ID, *location.Lat, *location.Lng)
		if err != nil {
			return
		}
		h.events.Dispatch(realtime.Event{
			Kind:   realtime.EventLocationJoined,
			Target: realtime.ToConnection(conn.ID),
			Payload: realtime.LocationJoinedPayload{
				LocationKey: key.String(),
				NearbyUsers: members,
			},
		})
	case clientMessageLeaveLocation:
		var location locationPayload
		if err := json.Unmarshal(frame.Data, &location); err != nil {
			return
		}
		if location.Lat == nil || location.Lng == nil {
			return
		}
		_ = h.cells.Leave(conn.ID, *location.Lat, *location.Lng)
	case clientMessageTaskCreated:
		if !conn.Admin {
			return
		}
		var announce taskAnnouncePayload
		if err := json.Unmarshal(frame.Data, &announce); err != nil {
			return
		}
		h.events.Dispatch(realtime.Event{
			Kind:   realtime.EventNewTaskNearby,
			Target: realtime.ToCell(announce.Lat, announce.Lng),
			Payload: realtime.NewTaskNearbyPayload{
				TaskID:       announce.TaskID,
				Title:        announce.Title,
				PointsValue:  announce.PointsValue,
				CategoryName: announce.CategoryName,
				DistanceText: "near your location",
				Message:      "New task available!",
			},
		})
		h.events.Dispatch(realtime.Event{
			Kind:   realtime.EventAdminNotification,
			Target: realtime.ToAdmins(),
			Payload: realtime.AdminNotificationPayload{
				Type:    "task_created",
				Message: "New task created: " + announce.TaskID,
				Data:    announce,
			},
		})
	case clientMessageTaskSubmitted:
		var announce submissionAnnouncePayload
		if err := json.Unmarshal(frame.Data, &announce); err != nil {
			return
		}
		h.events.Dispatch(realtime.Event{
			Kind:   realtime.EventSubmissionConfirmed,
			Target: realtime.ToUser(conn.UserID),
			Payload: realtime.SubmissionConfirmedPayload{
				TaskID:       announce.TaskID,
				SubmissionID: announce.SubmissionID,
				Message:      "Task submitted for validation!",
			},
		})
		h.events.Dispatch(realtime.Event{
			Kind:   realtime.EventAdminNotification,
			Target: realtime.ToAdmins(),
			Payload: realtime.AdminNotificationPayload{
				Type:    "new_submission",
				Message: "New submission pending validation",
				Data:    announce,
			},
		})
	}
}
