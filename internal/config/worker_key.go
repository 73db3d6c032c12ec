package config

// WorkerKeys names the Redis lists that hand session writes to the background
// workers. Producers RPUSH JSON payloads and workers BLPOP them.
type WorkerKeys struct {
	PersistActivityQueue      string
	PersistAnswersQueue       string
	PersistScoresQueue        string
	PersistQuestionOrderQueue string
}

var WorkerKey = WorkerKeys{
	PersistActivityQueue:      "queue:activity",
	PersistAnswersQueue:       "queue:answers",
	PersistScoresQueue:        "queue:scores",
	PersistQuestionOrderQueue: "queue:question_order",
}

// DeadLetter is where a worker parks payloads it can never decode.
func (WorkerKeys) DeadLetter(queue string) string {
	return queue + ":dead"
}
