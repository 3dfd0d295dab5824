package engine

import "github.com/covfuzz/covfuzz/internal/corpus"

// FuzzerState is the top-level state machine driving job selection (spec
// §4.G). Every worker observes and (rarely) advances the same state under
// queueMu; there is no per-worker state.
type FuzzerState int

const (
	// RestoreNeeded is the initial state when a checkpoint should be
	// loaded before anything else happens (-restore/-resume, or -in=-).
	RestoreNeeded FuzzerState = iota
	InputSampleProcessing
	ServerSampleProcessing
	GeneratingSamples
	Fuzzing
)

func (s FuzzerState) String() string {
	switch s {
	case RestoreNeeded:
		return "RestoreNeeded"
	case InputSampleProcessing:
		return "InputSampleProcessing"
	case ServerSampleProcessing:
		return "ServerSampleProcessing"
	case GeneratingSamples:
		return "GeneratingSamples"
	case Fuzzing:
		return "Fuzzing"
	default:
		return "Unknown"
	}
}

// JobType selects which of FuzzJob/ProcessSample/wait a worker runs next.
type JobType int

const (
	Wait JobType = iota
	ProcessSampleJob
	FuzzJobType
)

// Job is handed out by synchronizeAndGetJob and consumed by runWorkerLoop;
// exactly one of Sample/Entry is populated, depending on Type.
type Job struct {
	Type JobType

	// Sample is populated for ProcessSampleJob.
	Sample *sampleJobPayload

	// Entry is populated for FuzzJobType.
	Entry *corpus.Entry

	// DiscardEntry is set by fuzzJob and read back by jobDone to decide
	// whether Entry is discarded or requeued.
	DiscardEntry bool
}

// sampleJobPayload carries an ingest/server/generated sample plus which
// input_files-style source it came from, purely for logging.
type sampleJobPayload struct {
	Data   []byte
	Origin string
}
