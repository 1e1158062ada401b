// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrCampaignNotFound is returned when a campaign id does not resolve.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrNotFound is the generic lookup miss for the other stored entities.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

func NewNotFound(entity, id string) error {
	return &ErrNotFound{Entity: entity, ID: id}
}

// ErrConflict reports a uniqueness violation on user supplied data.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string { return e.Message }

func NewConflict(format string, args ...any) error {
	return &ErrConflict{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation rejects a malformed request field.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, format string, args ...any) error {
	return &ErrValidation{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ====================== Filter compilation ======================

// UnsupportedOperatorError is raised when a criterion uses an operator that
// has no table entry, or one not allowed for the field's value type.
type UnsupportedOperatorError struct {
	Operator  string
	Field     string
	ValueType string
}

func (e *UnsupportedOperatorError) Error() string {
	if e.ValueType == "" {
		return fmt.Sprintf("unsupported operator: %s", e.Operator)
	}
	return fmt.Sprintf("unsupported operator %q for %s field %q", e.Operator, e.ValueType, e.Field)
}

func NewUnsupportedOperator(op, field, valueType string) error {
	return &UnsupportedOperatorError{Operator: op, Field: field, ValueType: valueType}
}

type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown filter field: %s", e.Field)
}

func NewUnknownField(field string) error {
	return &UnknownFieldError{Field: field}
}

type InvalidFilterValueError struct {
	Field    string
	Operator string
	Reason   string
}

func (e *InvalidFilterValueError) Error() string {
	if e.Field == "" {
		return "invalid filter: " + e.Reason
	}
	return fmt.Sprintf("invalid value for %s %s: %s", e.Field, e.Operator, e.Reason)
}

func NewInvalidFilterValue(field, op, reason string) error {
	return &InvalidFilterValueError{Field: field, Operator: op, Reason: reason}
}

// ====================== Campaign state ======================

type InvalidStateTransitionError struct {
	CampaignID string
	From       string
	To         string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for campaign %s: %s -> %s", e.CampaignID, e.From, e.To)
}

func NewInvalidStateTransition(id, from, to string) error {
	return &InvalidStateTransitionError{CampaignID: id, From: from, To: to}
}

type ScheduleInPastError struct {
	CampaignID string
	StartDate  time.Time
}

func (e *ScheduleInPastError) Error() string {
	return fmt.Sprintf("schedule start %s for campaign %s must be in the future", e.StartDate.Format(time.RFC3339), e.CampaignID)
}

func NewScheduleInPast(id string, start time.Time) error {
	return &ScheduleInPastError{CampaignID: id, StartDate: start}
}

type MissingTemplateError struct {
	CampaignID string
}

func (e *MissingTemplateError) Error() string {
	return fmt.Sprintf("campaign %s has no usable template", e.CampaignID)
}

func NewMissingTemplate(id string) error {
	return &MissingTemplateError{CampaignID: id}
}

type MissingScheduleError struct {
	CampaignID string
}

func (e *MissingScheduleError) Error() string {
	return fmt.Sprintf("campaign %s has no schedule start date", e.CampaignID)
}

func NewMissingSchedule(id string) error {
	return &MissingScheduleError{CampaignID: id}
}

type MissingAudienceError struct {
	CampaignID string
}

func (e *MissingAudienceError) Error() string {
	return fmt.Sprintf("campaign %s has no resolvable audience filter", e.CampaignID)
}

func NewMissingAudience(id string) error {
	return &MissingAudienceError{CampaignID: id}
}

// ====================== Dispatch ======================

// RateLimitedError signals the queue to re-deliver the job later.
type RateLimitedError struct {
	Sender string
	Count  int64
	Limit  int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry later (sender=%s count=%d limit=%d)", e.Sender, e.Count, e.Limit)
}

func NewRateLimited(sender string, count, limit int64) error {
	return &RateLimitedError{Sender: sender, Count: count, Limit: limit}
}

// IsValidation reports whether err is a caller mistake: a malformed filter or
// a violated campaign precondition.
func IsValidation(err error) bool {
	var (
		validation  *ErrValidation
		unsupported *UnsupportedOperatorError
		unknown     *UnknownFieldError
		invalid     *InvalidFilterValueError
		past        *ScheduleInPastError
		tmpl        *MissingTemplateError
		sched       *MissingScheduleError
		aud         *MissingAudienceError
	)
	return errors.As(err, &validation) || errors.As(err, &unsupported) || errors.As(err, &unknown) || errors.As(err, &invalid) ||
		errors.As(err, &past) || errors.As(err, &tmpl) || errors.As(err, &sched) || errors.As(err, &aud)
}

// IsNotFound reports whether err is a lookup miss of any stored entity.
func IsNotFound(err error) bool {
	var (
		campaign *ErrCampaignNotFound
		other    *ErrNotFound
	)
	return errors.As(err, &campaign) || errors.As(err, &other)
}
