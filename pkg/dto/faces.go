package dto

import "time"

type RegisterFaceResponse struct {
	Success bool `json:"success"`
	// Reused is true when the selfie matched a face already in the collection.
	Reused    bool      `json:"reused"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type FaceStatusResponse struct {
	Registered bool `json:"registered"`
}
