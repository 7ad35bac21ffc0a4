package codec

// Errors
var (
	ErrCRCMismatch = &CodecError{"ATE CRC mismatch"}
)

// CodecError represents a record codec error
type CodecError struct {
	Message string
}

func (e *CodecError) Error() string {
	return e.Message
}
