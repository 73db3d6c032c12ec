package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ResumeSnapshotKey returns the cache key for a student's in-progress snapshot
func (r *CacheKeyStruct) ResumeSnapshotKey(examID, studentID string) string {
	return fmt.Sprintf("student:%s:exam:%s:resume", studentID, examID)
}

// StudentQuestionOrderKey returns the cache key for a student's shuffled question order
func (r *CacheKeyStruct) StudentQuestionOrderKey(examID, studentID string) string {
	return fmt.Sprintf("student:%s:exam:%s:question_order", studentID, examID)
}

// StudentActiveExamKey returns the cache key for a student's currently active exam
func (r *CacheKeyStruct) StudentActiveExamKey(studentID string) string {
	return fmt.Sprintf("student:%s:active_exam", studentID)
}

// ExamQuestionsKey returns the cache key for an exam's question payload
func (r *CacheKeyStruct) ExamQuestionsKey(examID string) string {
	return fmt.Sprintf("exam:%s:questions", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
