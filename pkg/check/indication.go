package check

// Indication is the main status of a validation outcome.
// (ETSI EN 319 102-1, 5.1.3)
type Indication string

const (
	Passed        Indication = "PASSED"
	Indeterminate Indication = "INDETERMINATE"
	Failed        Indication = "FAILED"
)

// SubIndication qualifies an INDETERMINATE or FAILED Indication.
type SubIndication string

const (
	NoSubIndication SubIndication = ""

	FormatFailure                  SubIndication = "FORMAT_FAILURE"
	HashFailure                    SubIndication = "HASH_FAILURE"
	SigCryptoFailure               SubIndication = "SIG_CRYPTO_FAILURE"
	Revoked                        SubIndication = "REVOKED"
	SigConstraintsFailure          SubIndication = "SIG_CONSTRAINTS_FAILURE"
	ChainConstraintsFailure        SubIndication = "CHAIN_CONSTRAINTS_FAILURE"
	CertificateChainGeneralFailure SubIndication = "CERTIFICATE_CHAIN_GENERAL_FAILURE"
	CryptoConstraintsFailure       SubIndication = "CRYPTO_CONSTRAINTS_FAILURE"
	Expired                        SubIndication = "EXPIRED"
	NotYetValid                    SubIndication = "NOT_YET_VALID"
	PolicyProcessingError          SubIndication = "POLICY_PROCESSING_ERROR"
	SignaturePolicyNotAvailable    SubIndication = "SIGNATURE_POLICY_NOT_AVAILABLE"
	TimestampOrderFailure          SubIndication = "TIMESTAMP_ORDER_FAILURE"
	NoSigningCertificateFound      SubIndication = "NO_SIGNING_CERTIFICATE_FOUND"
	NoCertificateChainFound        SubIndication = "NO_CERTIFICATE_CHAIN_FOUND"
	RevokedNoPOE                   SubIndication = "REVOKED_NO_POE"
	RevokedCANoPOE                 SubIndication = "REVOKED_CA_NO_POE"
	OutOfBoundsNoPOE               SubIndication = "OUT_OF_BOUNDS_NO_POE"
	OutOfBoundsNotRevoked          SubIndication = "OUT_OF_BOUNDS_NOT_REVOKED"
	CryptoConstraintsFailureNoPOE  SubIndication = "CRYPTO_CONSTRAINTS_FAILURE_NO_POE"
	NoPOE                          SubIndication = "NO_POE"
	TryLater                       SubIndication = "TRY_LATER"
	SignedDataNotFound             SubIndication = "SIGNED_DATA_NOT_FOUND"
	NoCertificateChainFoundNoPOE   SubIndication = "NO_CERTIFICATE_CHAIN_FOUND_NO_POE"
	Generic                        SubIndication = "GENERIC"
)

var (
	indeterminateSubs = map[SubIndication]struct{}{
		SigConstraintsFailure:          {},
		ChainConstraintsFailure:        {},
		CertificateChainGeneralFailure: {},
		CryptoConstraintsFailure:       {},
		NoSigningCertificateFound:      {},
		NoCertificateChainFound:        {},
		RevokedNoPOE:                   {},
		RevokedCANoPOE:                 {},
		OutOfBoundsNoPOE:               {},
		OutOfBoundsNotRevoked:          {},
		CryptoConstraintsFailureNoPOE:  {},
		NoPOE:                          {},
		TryLater:                       {},
		SignedDataNotFound:             {},
		NoCertificateChainFoundNoPOE:   {},
		FormatFailure:                  {},
		PolicyProcessingError:          {},
		SignaturePolicyNotAvailable:    {},
		TimestampOrderFailure:          {},
		Generic:                        {},
	}
	failedSubs = map[SubIndication]struct{}{
		FormatFailure:            {},
		HashFailure:              {},
		SigCryptoFailure:         {},
		Revoked:                  {},
		Expired:                  {},
		NotYetValid:              {},
		SigConstraintsFailure:    {},
		ChainConstraintsFailure:  {},
		CryptoConstraintsFailure: {},
		PolicyProcessingError:    {},
		SignedDataNotFound:       {},
		Generic:                  {},
	}
)

// Valid reports whether sub may qualify ind. PASSED never carries a
// SubIndication.
func (ind Indication) Valid(sub SubIndication) bool {
	switch ind {
	case Passed:
		return sub == NoSubIndication
	case Indeterminate:
		_, ok := indeterminateSubs[sub]
		return ok
	case Failed:
		_, ok := failedSubs[sub]
		return ok
	}
	return false
}
