package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PendingPayload is the resource-creation data kept on a deferred order until payment clears.
// Exactly one of Job or Resume is set, matching Kind.
type PendingPayload struct {
	Kind   AdType
	Job    *JobPostingPayload
	Resume *ResumePayload
}

// JobPostingPayload describes a job advertisement that will be created after payment.
type JobPostingPayload struct {
	Title         string `json:"job_title" validate:"required,max=255"`
	Description   string `json:"job_description,omitempty" validate:"max=10000"`
	CompanyID     string `json:"company_id" validate:"required,max=64"`
	IndustryID    string `json:"industry_id" validate:"required,max=64"`
	Gender        string `json:"gender,omitempty" validate:"omitempty,oneof=M F N"`
	SoldierStatus string `json:"soldier_status,omitempty" validate:"omitempty,oneof=CO EE NS"`
	Degree        string `json:"degree,omitempty" validate:"omitempty,oneof=BD DI AS BA MA DO"`
	Salary        string `json:"salary,omitempty" validate:"omitempty,salary_range"`
	JobType       string `json:"job_type,omitempty" validate:"omitempty,oneof=FT PT RE IN"`
}

// ResumePayload describes a resume advertisement that will be created after payment.
type ResumePayload struct {
	Title         string `json:"title" validate:"required,max=255"`
	Description   string `json:"description,omitempty" validate:"max=10000"`
	ResumeID      string `json:"resume_id" validate:"required,max=64"`
	IndustryID    string `json:"industry_id" validate:"required,max=64"`
	LocationID    string `json:"location_id" validate:"required,max=64"`
	Gender        string `json:"gender,omitempty" validate:"omitempty,oneof=M F N"`
	SoldierStatus string `json:"soldier_status,omitempty" validate:"omitempty,oneof=CO EE NS"`
	Degree        string `json:"degree,omitempty" validate:"omitempty,oneof=BD DI AS BA MA DO"`
	Salary        string `json:"salary,omitempty" validate:"omitempty,salary_range"`
	JobType       string `json:"job_type,omitempty" validate:"omitempty,oneof=FT PT RE IN"`
}

// SalaryRanges lists the accepted salary buckets.
var SalaryRanges = []string{
	"5 to 10",
	"10 to 15",
	"15 to 20",
	"20 to 30",
	"30 to 50",
	"More than 50",
	"Negotiable",
}

// Attributes returns the shared posting filters of the job payload.
func (p JobPostingPayload) Attributes() PostingAttributes {
	return PostingAttributes{
		Gender:        p.Gender,
		SoldierStatus: p.SoldierStatus,
		Degree:        p.Degree,
		Salary:        p.Salary,
		JobType:       p.JobType,
	}
}

// Attributes returns the shared posting filters of the resume payload.
func (p ResumePayload) Attributes() PostingAttributes {
	return PostingAttributes{
		Gender:        p.Gender,
		SoldierStatus: p.SoldierStatus,
		Degree:        p.Degree,
		Salary:        p.Salary,
		JobType:       p.JobType,
	}
}

// NewJobPendingPayload wraps a job posting payload.
func NewJobPendingPayload(job JobPostingPayload) *PendingPayload {
	return &PendingPayload{Kind: AdTypeJob, Job: &job}
}

// NewResumePendingPayload wraps a resume posting payload.
func NewResumePendingPayload(resume ResumePayload) *PendingPayload {
	return &PendingPayload{Kind: AdTypeResume, Resume: &resume}
}

// ErrPendingPayloadMalformed reports a payload whose variant does not match its kind.
var ErrPendingPayloadMalformed = errors.New("pending payload: malformed")

// CheckVariant verifies the tag and the populated variant agree.
func (p *PendingPayload) CheckVariant() error {
	if p == nil {
		return fmt.Errorf("%w: payload is nil", ErrPendingPayloadMalformed)
	}
	switch p.Kind {
	case AdTypeJob:
		if p.Job == nil || p.Resume != nil {
			return fmt.Errorf("%w: job payload expected", ErrPendingPayloadMalformed)
		}
	case AdTypeResume:
		if p.Resume == nil || p.Job != nil {
			return fmt.Errorf("%w: resume payload expected", ErrPendingPayloadMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrPendingPayloadMalformed, p.Kind)
	}
	return nil
}

type pendingPayloadEnvelope struct {
	Kind   AdType          `json:"kind"`
	Job    json.RawMessage `json:"job,omitempty"`
	Resume json.RawMessage `json:"resume,omitempty"`
}

// MarshalJSON encodes the payload as a tagged envelope.
func (p PendingPayload) MarshalJSON() ([]byte, error) {
	env := pendingPayloadEnvelope{Kind: p.Kind}
	var err error
	switch p.Kind {
	case AdTypeJob:
		if p.Job != nil {
			env.Job, err = json.Marshal(p.Job)
		}
	case AdTypeResume:
		if p.Resume != nil {
			env.Resume, err = json.Marshal(p.Resume)
		}
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the tagged envelope and rejects mismatched variants.
func (p *PendingPayload) UnmarshalJSON(data []byte) error {
	var env pendingPayloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	decoded := PendingPayload{Kind: env.Kind}
	switch env.Kind {
	case AdTypeJob:
		if len(env.Job) == 0 {
			return fmt.Errorf("%w: job payload missing", ErrPendingPayloadMalformed)
		}
		var job JobPostingPayload
		if err := json.Unmarshal(env.Job, &job); err != nil {
			return err
		}
		decoded.Job = &job
	case AdTypeResume:
		if len(env.Resume) == 0 {
			return fmt.Errorf("%w: resume payload missing", ErrPendingPayloadMalformed)
		}
		var resume ResumePayload
		if err := json.Unmarshal(env.Resume, &resume); err != nil {
			return err
		}
		decoded.Resume = &resume
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrPendingPayloadMalformed, env.Kind)
	}
	*p = decoded
	return nil
}
