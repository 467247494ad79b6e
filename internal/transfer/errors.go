package transfer

import "errors"

var (
	// ErrArguments is returned for a malformed command line.
	ErrArguments = errors.New("invalid arguments")

	// ErrFileOpen is returned when the source cannot be opened for reading
	// or the destination for writing. Nothing is attached in that case.
	ErrFileOpen = errors.New("cannot open file")

	// ErrStreamIO marks a transfer that was cut short by a source read or
	// destination write failure. The peer still terminates normally.
	ErrStreamIO = errors.New("stream I/O failed, transfer truncated")

	// ErrSlotOverrun reports a producer about to overwrite a slot that
	// still holds unread bytes.
	ErrSlotOverrun = errors.New("slot overrun: refilling a ready slot")

	// ErrSequence reports a drained chunk whose sequence number does not
	// follow the previous one.
	ErrSequence = errors.New("chunk out of sequence")

	// ErrChunkLength reports a slot length larger than the chunk capacity.
	ErrChunkLength = errors.New("chunk length exceeds slot capacity")
)
