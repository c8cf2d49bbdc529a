package models

// DatasetKind selects the fine-tuning dataset flavour
type DatasetKind string

const (
	DatasetSFT DatasetKind = "sft"
	DatasetDPO DatasetKind = "dpo"
)

// Valid reports whether k is a known dataset kind
func (k DatasetKind) Valid() bool {
	return k == DatasetSFT || k == DatasetDPO
}

// DatasetReadiness is derived from two counters and a client-side threshold
type DatasetReadiness struct {
	SFTCount          int `json:"sft_count"`
	DPOCount          int `json:"dpo_count"`
	RequiredThreshold int `json:"required_threshold"`
}

// CountResponse is returned by the dataset count endpoints
type CountResponse struct {
	Count int `json:"count"`
}

// PushRequest carries hub credentials for a single push call. Never stored.
type PushRequest struct {
	HFUsername         string `json:"hf_username"`
	HFWriteAccessToken string `json:"hf_write_access_token"`
	DoPush             bool   `json:"do_push"`
}

// PushResult reports the outcome of a push
type PushResult struct {
	RepoID  string `json:"repo_id"`
	Rows    int    `json:"rows"`
	Pushed  bool   `json:"pushed"`
	Message string `json:"message,omitempty"`
}

// SFTMessage is one turn of an SFT conversation line
type SFTMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Weight  *int   `json:"weight,omitempty"`
}

// SFTLine is one line of sft-dataset.jsonl
type SFTLine struct {
	Messages []SFTMessage `json:"messages"`
}

// DPOInput is the shared prompt of a preference pair
type DPOInput struct {
	Messages []Message `json:"messages"`
}

// DPOLine is one line of dpo-dataset.jsonl
type DPOLine struct {
	Input              DPOInput  `json:"input"`
	PreferredOutput    []Message `json:"preferred_output"`
	NonPreferredOutput []Message `json:"non_preferred_output"`
}
