package acp

import (
	"encoding/json"
	"fmt"
)

// wireUpdate is the JSON shape of a session/update payload, discriminated
// by sessionUpdate.
type wireUpdate struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Content       json.RawMessage `json:"content"`
	ToolCallID    string          `json:"toolCallId"`
	Title         *string         `json:"title"`
	Kind          *string         `json:"kind"`
	Status        *string         `json:"status"`
	Locations     []wireLocation  `json:"locations"`
	Entries       []wirePlanEntry `json:"entries"`
}

type wireLocation struct {
	Path string `json:"path"`
}

type wirePlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// decodeUpdate maps a session/update payload onto an Event. ok is false for
// update kinds and content types the bridge does not forward.
func decodeUpdate(raw []byte) (ev Event, ok bool, err error) {
	var u wireUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, false, fmt.Errorf("failed to decode session update: %w", err)
	}

	switch u.SessionUpdate {
	case "agent_message_chunk", "agent_thought_chunk":
		var c wireContent
		if len(u.Content) == 0 || json.Unmarshal(u.Content, &c) != nil || c.Type != "text" {
			return nil, false, nil
		}
		if u.SessionUpdate == "agent_message_chunk" {
			return MessageChunk{Text: c.Text}, true, nil
		}
		return ThoughtChunk{Text: c.Text}, true, nil

	case "tool_call":
		return ToolCallStart{
			ID:        u.ToolCallID,
			Title:     deref(u.Title),
			Kind:      deref(u.Kind),
			Status:    deref(u.Status),
			Locations: locationPaths(u.Locations),
		}, true, nil

	case "tool_call_update":
		return ToolCallProgress{
			ID:        u.ToolCallID,
			Title:     deref(u.Title),
			Kind:      deref(u.Kind),
			Status:    deref(u.Status),
			Locations: locationPaths(u.Locations),
		}, true, nil

	case "plan":
		entries := make([]PlanEntry, 0, len(u.Entries))
		for _, e := range u.Entries {
			entries = append(entries, PlanEntry{Content: e.Content, Priority: e.Priority, Status: e.Status})
		}
		return PlanUpdate{Entries: entries}, true, nil
	}
	return nil, false, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func locationPaths(locs []wireLocation) []string {
	var paths []string
	for _, l := range locs {
		if l.Path != "" {
			paths = append(paths, l.Path)
		}
	}
	return paths
}
