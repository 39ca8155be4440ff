package at

import (
	"strconv"
	"strings"
)

// StringOpt represents a final response token together with its
// human-readable description.
type StringOpt struct {
	ID          string
	Description string
}

// UnknownStringOpt represents a token that did not resolve.
var UnknownStringOpt = StringOpt{ID: "nil", Description: "Unknown"}

type stringOpts []StringOpt

func (s stringOpts) Resolve(str string) StringOpt {
	for _, v := range s {
		if strings.HasPrefix(str, v.ID) {
			return v
		}
	}
	return UnknownStringOpt
}

var finals = stringOpts{
	{"OK", "Success"},
	{"CONNECT", "Connect"},
	{"+CME ERROR:", "Equipment error"},
	{"+CMS ERROR:", "Message service error"},
	{"COMMAND NOT SUPPORT", "Command is not supported"},
	{"TOO MANY PARAMETERS", "Too many parameters"},
	{"NO CARRIER", "No carrier"},
	{"NO DIALTONE", "No dialtone"},
	{"NO ANSWER", "No answer"},
	{"BUSY", "Busy"},
	{"ERROR", "Error"},
}

// FinalResults represent the tokens that terminate a response.
var FinalResults = struct {
	Resolve func(string) StringOpt

	Ok                StringOpt
	Connect           StringOpt
	CmeError          StringOpt
	CmsError          StringOpt
	NotSupported      StringOpt
	TooManyParameters StringOpt
	NoCarrier         StringOpt
	NoDialtone        StringOpt
	NoAnswer          StringOpt
	Busy              StringOpt
	Error             StringOpt
}{
	func(str string) StringOpt { return finals.Resolve(str) },

	finals[0], finals[1], finals[2], finals[3],
	finals[4], finals[5], finals[6], finals[7],
	finals[8], finals[9], finals[10],
}

// finalToError converts a terminating line to the error it stands for,
// or nil for a successful final.
func finalToError(opt StringOpt, line string) error {
	switch opt {
	case FinalResults.Ok, FinalResults.Connect:
		return nil
	case FinalResults.CmeError:
		return &EquipmentError{Code: parseErrorCode(line, opt.ID)}
	case FinalResults.CmsError:
		return &MessageError{Code: parseErrorCode(line, opt.ID)}
	default:
		return &CommandError{Result: opt}
	}
}

func parseErrorCode(line, prefix string) int {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, prefix)))
	if err != nil {
		return -1
	}
	return n
}
