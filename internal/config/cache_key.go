package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptDeadlineIndex returns the sorted-set key holding attempt deadlines.
// Members are attempt IDs, scores are absolute unix deadlines.
func (r *CacheKeyStruct) AttemptDeadlineIndex() string {
	return "attempt:deadlines"
}

// StudentActiveAttemptKey returns the cache key for a student's active attempt.
func (r *CacheKeyStruct) StudentActiveAttemptKey(studentID int) string {
	return fmt.Sprintf("student:%d:active_attempt", studentID)
}

// AttemptViolationCountKey returns the cache key for an attempt's running
// violation total, used for cheap status reads.
func (r *CacheKeyStruct) AttemptViolationCountKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:violation_count", attemptID)
}

var CacheKey = NewCacheKeyStruct()
