package rpc

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/tee-signer-fabric/scale"
)

// StatusKind is the variant index of DirectRequestStatus on the wire.
type StatusKind uint8

const (
	StatusOk                     StatusKind = 0
	StatusTrustedOperationStatus StatusKind = 1
	StatusError                  StatusKind = 2
)

func (k StatusKind) String() string {
	switch k {
	case StatusOk:
		return "ok"
	case StatusTrustedOperationStatus:
		return "trusted_operation_status"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// OperationStatus is the variant index of TrustedOperationStatus on the wire.
type OperationStatus uint8

const (
	OperationSubmitted OperationStatus = iota
	OperationFuture
	OperationReady
	OperationBroadcast
	OperationInSidechainBlock
	OperationRetracted
	OperationFinalityTimeout
	OperationFinalized
	OperationUsurped
	OperationDropped
	OperationInvalid
)

var operationStatusNames = [...]string{
	"submitted", "future", "ready", "broadcast", "in_sidechain_block", "retracted",
	"finality_timeout", "finalized", "usurped", "dropped", "invalid",
}

func (s OperationStatus) String() string {
	if int(s) < len(operationStatusNames) {
		return operationStatusNames[s]
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// TrustedOperationStatus reports the progress of a trusted operation. BlockHash is only
// meaningful, and only encoded, for OperationInSidechainBlock.
type TrustedOperationStatus struct {
	Kind      OperationStatus
	BlockHash common.Hash
}

// DirectRequestStatus is the status part of a ReturnValue. OperationStatus and
// OperationHash are only encoded for StatusTrustedOperationStatus.
type DirectRequestStatus struct {
	Kind            StatusKind
	OperationStatus TrustedOperationStatus
	OperationHash   common.Hash
}

func (s DirectRequestStatus) encode(enc *scale.Encoder) {
	enc.WriteU8(uint8(s.Kind))
	if s.Kind != StatusTrustedOperationStatus {
		return
	}
	enc.WriteU8(uint8(s.OperationStatus.Kind))
	if s.OperationStatus.Kind == OperationInSidechainBlock {
		enc.WriteFixed(s.OperationStatus.BlockHash[:])
	}
	enc.WriteFixed(s.OperationHash[:])
}

func decodeDirectRequestStatus(dec *scale.Decoder) (DirectRequestStatus, error) {
	kind, err := dec.ReadU8()
	if err != nil {
		return DirectRequestStatus{}, err
	}

	status := DirectRequestStatus{Kind: StatusKind(kind)}
	switch status.Kind {
	case StatusOk, StatusError:
		return status, nil
	case StatusTrustedOperationStatus:
	default:
		return DirectRequestStatus{}, fmt.Errorf("%w: direct request status index %d", ErrInvalidReturnValue, kind)
	}

	opKind, err := dec.ReadU8()
	if err != nil {
		return DirectRequestStatus{}, err
	}
	if opKind > uint8(OperationInvalid) {
		return DirectRequestStatus{}, fmt.Errorf("%w: trusted operation status index %d", ErrInvalidReturnValue, opKind)
	}
	status.OperationStatus.Kind = OperationStatus(opKind)

	if status.OperationStatus.Kind == OperationInSidechainBlock {
		blockHash, err := dec.ReadFixed(common.HashLength)
		if err != nil {
			return DirectRequestStatus{}, err
		}
		status.OperationStatus.BlockHash = common.BytesToHash(blockHash)
	}

	opHash, err := dec.ReadFixed(common.HashLength)
	if err != nil {
		return DirectRequestStatus{}, err
	}
	status.OperationHash = common.BytesToHash(opHash)

	return status, nil
}
