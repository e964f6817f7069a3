package model

import "time"

// RegistryStats describes the in-process room registry for operational
// visibility (not exposed over the wire protocol; used by admin tooling).
type RegistryStats struct {
	TotalRooms    int           `json:"total_rooms"`
	TotalSessions int           `json:"total_sessions"`
	Uptime        time.Duration `json:"uptime"`
	Rooms         []RoomStats   `json:"rooms,omitempty"`
}

// RoomStats reports the local (this node only) session count for a room.
type RoomStats struct {
	RoomID       string `json:"room_id"`
	SessionCount int    `json:"session_count"`
}
