package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestDefinitionKey returns the cache key for a test's full definition
func (r *CacheKeyStruct) TestDefinitionKey(testID string) string {
	return fmt.Sprintf("test:%s:definition", testID)
}

// TestLinkKey returns the cache key mapping a share link to a test id
func (r *CacheKeyStruct) TestLinkKey(link string) string {
	return fmt.Sprintf("test_link:%s", link)
}

// StudentAnswersKey returns the hash key holding a student's autosaved answers
func (r *CacheKeyStruct) StudentAnswersKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:answers", studentID, testID)
}

// StudentSubmittedKey marks a student's test as submitted
func (r *CacheKeyStruct) StudentSubmittedKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:submitted", studentID, testID)
}

// CodeRunRateKey returns the rate limiter key for code runs by a user
func (r *CacheKeyStruct) CodeRunRateKey(userID int) string {
	return fmt.Sprintf("rate:code_run:%d", userID)
}

// TestMonitorChannel returns the Redis PubSub channel name for a test monitor
func (r *CacheKeyStruct) TestMonitorChannel(testID string) string {
	return fmt.Sprintf("test:%s:monitor", testID)
}

var CacheKey = NewCacheKeyStruct()
