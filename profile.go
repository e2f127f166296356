package profilesync

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

const maxFieldLength = 255

// ProfileFields is the editable part of a profile.
type ProfileFields struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
	City        string `json:"city"`
	Pincode     string `json:"pincode"`
}

// Merge returns f with every empty field replaced by the value held in base.
func (f ProfileFields) Merge(base ProfileFields) ProfileFields {
	pick := func(v, fallback string) string {
		if v != "" {
			return v
		}
		return fallback
	}

	return ProfileFields{
		FirstName:   pick(f.FirstName, base.FirstName),
		LastName:    pick(f.LastName, base.LastName),
		PhoneNumber: pick(f.PhoneNumber, base.PhoneNumber),
		City:        pick(f.City, base.City),
		Pincode:     pick(f.Pincode, base.Pincode),
	}
}

// ProfileUpdateRequest is the immutable input of a run.
type ProfileUpdateRequest struct {
	SubjectID   string        `json:"email"`
	Fields      ProfileFields `json:"fields"`
	RequestedAt time.Time     `json:"requestedAt"`
}

func (r ProfileUpdateRequest) Validate() error {
	return ValidateProfile(r.SubjectID, r.Fields)
}

// ValidateProfile applies the rules the primary data store enforces on every write.
func ValidateProfile(subjectID string, f ProfileFields) error {
	if strings.TrimSpace(subjectID) == "" {
		return errors.Wrap(ErrValidation, "email is required")
	}

	if !strings.Contains(subjectID, "@") {
		return errors.Wrap(ErrValidation, "email is malformed", j.MKV{"email": subjectID})
	}

	if strings.TrimSpace(f.FirstName) == "" {
		return errors.Wrap(ErrValidation, "firstName is required", j.MKV{"email": subjectID})
	}

	if strings.TrimSpace(f.LastName) == "" {
		return errors.Wrap(ErrValidation, "lastName is required", j.MKV{"email": subjectID})
	}

	values := map[string]string{
		"email":       subjectID,
		"firstName":   f.FirstName,
		"lastName":    f.LastName,
		"phoneNumber": f.PhoneNumber,
		"city":        f.City,
		"pincode":     f.Pincode,
	}
	for name, v := range values {
		if len(v) > maxFieldLength {
			return errors.Wrap(ErrValidation, "field too long", j.MKV{
				"field":  name,
				"length": len(v),
			})
		}
	}

	return nil
}

// PersistedProfile is the canonical profile as held by the primary data store.
type PersistedProfile struct {
	SubjectID string `json:"email"`
	ProfileFields
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SyncRequest is the payload of the syncExternal activity.
type SyncRequest struct {
	RunID   string           `json:"run_id"`
	Attempt int              `json:"attempt"`
	Profile PersistedProfile `json:"profile"`
}

// SyncRecord is the audit of a successful call to the external sync endpoint.
type SyncRecord struct {
	StatusCode int             `json:"status_code"`
	Response   json.RawMessage `json:"response,omitempty"`
	Attempt    int             `json:"attempt"`
	SyncedAt   time.Time       `json:"synced_at"`
}
