package config

type WorkerKeyStruct struct {
	ViolationQueue string
	ProctorChannel string
}

var WorkerKey = &WorkerKeyStruct{
	ViolationQueue: "ingest_violations_queue",
	ProctorChannel: "proctor_events",
}
