package dto

import "encoding/json"

type NotificationDTO struct {
	ID        uint            `json:"id"`
	Type      string          `json:"type" example:"allocation_request_created"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty" swaggertype:"object"`
	IsRead    bool            `json:"is_read"`
	ReadAt    *string         `json:"read_at,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type ListNotificationsRequest struct {
	PageRequest
	UnreadOnly bool `query:"unread_only"`
}

type ListNotificationsResponse struct {
	Items      []NotificationDTO `json:"items"`
	Unread     int64             `json:"unread"`
	Pagination Pagination        `json:"pagination"`
}

type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
