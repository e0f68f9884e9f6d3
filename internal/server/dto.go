package server

import "stakeline/internal/domain"

type CreateCommitmentRequest struct {
	Title             string `json:"title" example:"Run 5k every day"`
	Description       string `json:"description,omitempty"`
	Category          string `json:"category,omitempty" example:"fitness"`
	StartDate         string `json:"start_date" format:"date" example:"2024-01-01"`
	EndDate           string `json:"end_date" format:"date" example:"2024-01-31"`
	CheckInFrequency  string `json:"check_in_frequency" enum:"daily,weekly,one_time"`
	StakesAmount      int    `json:"stakes_amount,omitempty" minimum:"0"`
	StakesCurrency    string `json:"stakes_currency,omitempty" example:"USD"`
	StakesDestination string `json:"stakes_destination,omitempty"`
	RefereeID         string `json:"referee_id,omitempty"`
	CharityID         string `json:"charity_id,omitempty"`
	IsPublic          bool   `json:"is_public,omitempty"`
}

type SubmitCheckInRequest struct {
	CheckInDate        string `json:"check_in_date" format:"date" example:"2024-01-03"`
	Note               string `json:"note,omitempty"`
	ProofPhotoURL      string `json:"proof_photo_url,omitempty"`
	UserReportedStatus string `json:"user_reported_status" enum:"success,failure"`
}

type RefereeActionRequest struct {
	RefereeNote string `json:"referee_note,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// APIKeyCreatedResponse carries the raw secret exactly once, at creation.
type APIKeyCreatedResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func mapAPIKeys(in []domain.APIKey) []APIKeyResponse {
	out := make([]APIKeyResponse, 0, len(in))
	for _, k := range in {
		out = append(out, apiKeyResponse(k))
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
