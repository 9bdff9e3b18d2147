package domain

// IntentType is the action the decision engine wants executed.
type IntentType string

const (
	IntentOpen  IntentType = "OPEN"
	IntentClose IntentType = "CLOSE"
	IntentHold  IntentType = "HOLD"
)

// Intent reason codes.
const (
	ReasonDipEntry     = "DIP_ENTRY"
	ReasonBigDipEntry  = "BIG_DIP_ENTRY"
	ReasonStopLoss     = "STOP_LOSS"
	ReasonTakeProfit   = "TAKE_PROFIT"
	ReasonTrailingStop = "TRAILING_STOP"
	ReasonEmergency    = "EMERGENCY_FLOOR"
	ReasonPhantom      = "no on-chain balance found"
)

// Intent is the decision engine's output for one session tick.
// OPEN intents carry an amount; CLOSE intents carry the position to close.
type Intent struct {
	Type      IntentType
	SessionID string
	Reason    string

	// OPEN
	AmountUSD float64
	LotID     string

	// CLOSE
	Position *Position
}
