package models

import "time"

type Service struct {
	ServiceID       string `json:"service_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Active          bool   `json:"active"`
}

// AverageDuration is the mean time one booking occupies the service provider.
func (s Service) AverageDuration() time.Duration {
	if s.DurationMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.DurationMinutes) * time.Minute
}
