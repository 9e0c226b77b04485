package domain

import "time"

// QuerySource discriminates who originated the query a QueryLog describes.
type QuerySource uint8

const (
	QuerySourceClient QuerySource = iota
	QuerySourceInternal
	QuerySourceDnssecValidation
)

func (s QuerySource) String() string {
	switch s {
	case QuerySourceInternal:
		return "internal"
	case QuerySourceDnssecValidation:
		return "dnssec_validation"
	default:
		return "client"
	}
}

// ResponseStatus is the outcome classification a QueryLog entry records,
// distinct from the wire-level RCode (e.g. LOCAL_DNS and BLOCKED both map
// to an NXDOMAIN-shaped answer but mean different things to an operator).
type ResponseStatus uint8

const (
	ResponseNoError ResponseStatus = iota
	ResponseBlocked
	ResponseNxDomain
	ResponseLocalDns
	ResponseTimeout
	ResponseServfail
)

func (s ResponseStatus) String() string {
	switch s {
	case ResponseBlocked:
		return "BLOCKED"
	case ResponseNxDomain:
		return "NXDOMAIN"
	case ResponseLocalDns:
		return "LOCAL_DNS"
	case ResponseTimeout:
		return "TIMEOUT"
	case ResponseServfail:
		return "SERVFAIL"
	default:
		return "NOERROR"
	}
}

// QueryLog is the structured terminal outcome record every pipeline
// invocation emits exactly once.
type QueryLog struct {
	Domain          string
	RecordType      RRType
	ClientIP        string
	Hostname        string
	Blocked         bool
	BlockSource     *BlockSourceKind
	ResponseTimeUs  int64
	CacheHit        bool
	CacheRefresh    bool
	DnssecStatus    *DnssecStatus
	UpstreamServer  string
	UpstreamPool    string
	ResponseStatus  ResponseStatus
	QuerySource     QuerySource
	GroupID         *int64
	Timestamp       time.Time
}
