package action

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Transfer moves Amount of Token from the contract to Recipient
type Transfer struct {
	Token     string
	Recipient string
	Amount    *uint256.Int
}

// Instantiate asks the host to create a contract from CodeID
type Instantiate struct {
	CodeID   uint64
	CodeHash string
	Label    string
	Msg      []byte
}

// Message is an outbound fire-and-forget request. Exactly one field is set.
type Message struct {
	Transfer    *Transfer
	Instantiate *Instantiate
}

// Kind names the populated variant
func (m Message) Kind() string {
	switch {
	case m.Transfer != nil:
		return "transfer"
	case m.Instantiate != nil:
		return "instantiate"
	}
	return "empty"
}

// Attribute is one key/value log entry of a result
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Result is what a successful action returns to the host
type Result struct {
	Messages []Message
	Log      []Attribute
}

func (r *Result) AddTransfer(token, recipient string, amount *uint256.Int) {
	r.Messages = append(r.Messages, Message{Transfer: &Transfer{
		Token:     token,
		Recipient: recipient,
		Amount:    new(uint256.Int).Set(amount),
	}})
}

func (r *Result) AddInstantiate(m Instantiate) {
	r.Messages = append(r.Messages, Message{Instantiate: &m})
}

func (r *Result) Attr(key string, value interface{}) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case *uint256.Int:
		s = v.Dec()
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	r.Log = append(r.Log, Attribute{Key: key, Value: s})
}

// Get returns the first attribute value for key
func (r *Result) Get(key string) (string, bool) {
	for _, a := range r.Log {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
