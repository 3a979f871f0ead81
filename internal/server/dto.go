package server

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"khatma/internal/domain"
	"khatma/internal/engine"
)

// Request payloads. Fields are optional at the schema level so that absent
// values reach the engine and come back as missing_fields.

type AuthRequest struct {
	Group string `json:"group,omitempty" doc:"Group to join; created on first reference"`
	ID    string `json:"id,omitempty" doc:"Self-declared 5-digit identifier" example:"12345"`
	Name  string `json:"name,omitempty" doc:"Display name" example:"Ahmed"`
}

type UpdateTaskRequest struct {
	Group  string  `json:"group_name,omitempty" example:"Alpha"`
	UID    string  `json:"uid,omitempty" example:"12345"`
	TaskID TaskRef `json:"task_id,omitempty"`
}

// TaskRef is a task number sent either as a JSON number or a numeric string.
type TaskRef int

func (r *TaskRef) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*r = 0
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" {
		*r = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("task_id %s is not a number", data)
	}
	*r = TaskRef(n)
	return nil
}

func (TaskRef) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Description: "Task number 1..30, as a number or a numeric string",
		OneOf: []*huma.Schema{
			{Type: huma.TypeInteger},
			{Type: huma.TypeString},
		},
	}
}

// Response payloads

type TaskResponse struct {
	Status     int    `json:"status" enum:"0,1,2" doc:"0 available, 1 reserved, 2 done"`
	HolderID   string `json:"holderId"`
	HolderName string `json:"holderName"`
}

// TaskBoard encodes a board's tasks as an object keyed "1".."30" in part
// order.
type TaskBoard domain.Tasks

func (b TaskBoard) MarshalJSON() ([]byte, error) {
	return domain.Tasks(b).MarshalJSON()
}

func (TaskBoard) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:                 huma.TypeObject,
		Description:          "Tasks keyed by part number",
		AdditionalProperties: r.Schema(reflect.TypeOf(TaskResponse{}), true, "TaskResponse"),
	}
}

type AuthResponse struct {
	Success bool   `json:"success"`
	UID     string `json:"uid"`
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

type UpdateTaskResponse struct {
	Success           bool      `json:"success"`
	TaskID            int       `json:"taskId"`
	Status            int       `json:"status" doc:"Status the task moved to, before any mission reset"`
	MissionCount      int       `json:"missionCount"`
	Tasks             TaskBoard `json:"tasks"`
	CompletionMessage string    `json:"completionMessage,omitempty"`
}

type BoardResponse struct {
	Group        string    `json:"group"`
	MissionCount int       `json:"missionCount"`
	Tasks        TaskBoard `json:"tasks"`
}

type GroupsResponse struct {
	Groups []string `json:"groups"`
}

type MissionResponse struct {
	Group        string    `json:"group"`
	UID          string    `json:"uid"`
	Name         string    `json:"name"`
	MyTasksCount int       `json:"myTasksCount"`
	MissionCount int       `json:"missionCount"`
	Tasks        TaskBoard `json:"tasks"`
}

type UserResponse struct {
	UID     string           `json:"uid"`
	Name    string           `json:"name"`
	History map[string][]int `json:"history"`
}

func boardResponse(b engine.Board) BoardResponse {
	return BoardResponse{Group: b.Name, MissionCount: b.MissionCount, Tasks: TaskBoard(b.Tasks)}
}

func updateTaskResponse(res engine.AdvanceResult) UpdateTaskResponse {
	return UpdateTaskResponse{
		Success:           true,
		TaskID:            res.TaskID,
		Status:            int(res.Status),
		MissionCount:      res.Board.MissionCount,
		Tasks:             TaskBoard(res.Board.Tasks),
		CompletionMessage: res.CompletionMessage,
	}
}

func missionResponse(v engine.MemberView) MissionResponse {
	return MissionResponse{
		Group:        v.Board.Name,
		UID:          v.UserID,
		Name:         v.UserName,
		MyTasksCount: v.Completed,
		MissionCount: v.Board.MissionCount,
		Tasks:        TaskBoard(v.Board.Tasks),
	}
}

func userResponse(uid string, u domain.User) UserResponse {
	history := u.History
	if history == nil {
		history = map[string][]int{}
	}
	return UserResponse{UID: uid, Name: u.Name, History: history}
}
