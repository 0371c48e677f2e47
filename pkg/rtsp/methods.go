package rtsp

// Method is an RTSP request method.
type Method int

// Methods.
const (
	MethodUnknown Method = iota
	MethodOptions
	MethodDescribe
	MethodAnnounce
	MethodSetup
	MethodPlay
	MethodPause
	MethodTeardown
	MethodGetParameter
	MethodSetParameter
	MethodRecord
)

var methodNames = map[string]Method{
	"OPTIONS":       MethodOptions,
	"DESCRIBE":      MethodDescribe,
	"ANNOUNCE":      MethodAnnounce,
	"SETUP":         MethodSetup,
	"PLAY":          MethodPlay,
	"PAUSE":         MethodPause,
	"TEARDOWN":      MethodTeardown,
	"GET_PARAMETER": MethodGetParameter,
	"SET_PARAMETER": MethodSetParameter,
	"RECORD":        MethodRecord,
}

// methodByName maps a method token to a Method. Unrecognized tokens map
// to MethodUnknown, they are not a parse failure. The raw token stays
// available through Conn.MethodName() so that custom methods like the
// AirPlay "FLUSH" can still be handled.
func methodByName(name string) Method {
	if m, ok := methodNames[name]; ok {
		return m
	}
	return MethodUnknown
}

// String implements fmt.Stringer.
func (m Method) String() string {
	for name, method := range methodNames {
		if method == m {
			return name
		}
	}
	return "UNKNOWN"
}
