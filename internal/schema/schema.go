// Package schema defines the typed payloads stored in memory namespaces
// and validates them at the store-write boundary. The jsonschema tags feed
// the extraction tool definitions; the validate tags gate writes.
package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Schema names as presented to the extraction capability.
const (
	ProfileSchema = "Profile"
	ToDoSchema    = "ToDo"
)

// ToDo statuses.
const (
	StatusNotStarted = "not started"
	StatusInProgress = "in progress"
	StatusDone       = "done"
	StatusArchived   = "archived"
)

// Profile is the accumulated picture of the user. Every field is optional;
// a profile with zero fields populated is valid.
type Profile struct {
	Name        string   `json:"name,omitempty" jsonschema_description:"The user's name."`
	Location    string   `json:"location,omitempty" jsonschema_description:"The user's location."`
	Job         string   `json:"job,omitempty" jsonschema_description:"The user's job."`
	Connections []string `json:"connections,omitempty" jsonschema_description:"Personal connections of the user, such as family members, friends, or coworkers."`
	Interests   []string `json:"interests,omitempty" jsonschema_description:"Interests that the user has."`
}

// ToDo is a single task on the user's list.
type ToDo struct {
	Task           string     `json:"task" validate:"required" jsonschema_description:"The task to be completed."`
	TimeToComplete *int       `json:"time_to_complete,omitempty" validate:"omitempty,gte=0" jsonschema_description:"Estimated time to complete the task, in minutes."`
	Deadline       *time.Time `json:"deadline,omitempty" jsonschema_description:"When the task needs to be completed by, if applicable."`
	Solutions      []string   `json:"solutions,omitempty" jsonschema_description:"Specific, actionable solutions: concrete ideas, service providers, or options relevant to completing the task."`
	Status         string     `json:"status" validate:"omitempty,oneof='not started' 'in progress' done archived" jsonschema_description:"Current status of the task."`
}

// Instructions is the single free-form preference blob per namespace.
type Instructions struct {
	Memory string `json:"memory"`
}

var validate = validator.New()

// ValidateProfile checks a raw profile payload before it is written.
func ValidateProfile(raw json.RawMessage) error {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decoding profile: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("validating profile: %w", err)
	}
	return nil
}

// ValidateToDo checks a raw todo payload before it is written. A task in
// status "done" must carry at least one solution.
func ValidateToDo(raw json.RawMessage) error {
	var td ToDo
	if err := json.Unmarshal(raw, &td); err != nil {
		return fmt.Errorf("decoding todo: %w", err)
	}
	if err := validate.Struct(td); err != nil {
		return fmt.Errorf("validating todo: %w", err)
	}
	if td.Status == StatusDone && len(td.Solutions) == 0 {
		return fmt.Errorf("validating todo: a done task requires at least one solution")
	}
	return nil
}

// NormalizeToDo fills in the default status on a raw todo payload and
// returns the normalized bytes.
func NormalizeToDo(raw json.RawMessage) (json.RawMessage, error) {
	var td ToDo
	if err := json.Unmarshal(raw, &td); err != nil {
		return nil, fmt.Errorf("decoding todo: %w", err)
	}
	if td.Status == "" {
		td.Status = StatusNotStarted
	}
	out, err := json.Marshal(td)
	if err != nil {
		return nil, fmt.Errorf("encoding todo: %w", err)
	}
	return out, nil
}

// ValidatorFor returns the write-boundary validator for a schema name.
func ValidatorFor(name string) func(json.RawMessage) error {
	switch name {
	case ProfileSchema:
		return ValidateProfile
	case ToDoSchema:
		return ValidateToDo
	}
	return nil
}
