package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const TaskStatusNew = "new"

var (
	ErrInvalidTask = errors.New("invalid task payload")
)

// TaskID accepts both JSON strings and numbers and keeps the string form.
type TaskID string

func (id *TaskID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TaskID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("task id must be a string or number: %w", err)
	}
	*id = TaskID(n.String())
	return nil
}

func (id TaskID) String() string {
	return string(id)
}

type Task struct {
	ID     TaskID `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Child  []Task `json:"child,omitempty"`
}

func (t Task) IsNew() bool {
	return t.Status == TaskStatusNew
}

// IsContainer reports whether only the children of t are completable.
func (t Task) IsContainer() bool {
	return len(t.Child) > 0
}

func (t Task) DisplayTitle() string {
	if strings.TrimSpace(t.Title) == "" {
		return "Unknown"
	}
	return t.Title
}

// Validate checks t and all of its descendants.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID.String()) == "" {
		return fmt.Errorf("%w: missing id (title %q)", ErrInvalidTask, t.Title)
	}
	for _, c := range t.Child {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PendingTasks keeps the tasks with status "new" that st has not completed yet.
func PendingTasks(tasks []Task, st *AccountState) []Task {
	pending := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.IsNew() && !st.HasTask(t.ID.String()) {
			pending = append(pending, t)
		}
	}
	return pending
}

type Profile struct {
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}
