package store

// Storage keys shared by the client, the transcript store and the CLI.
const (
	KeyTranscript        = "evaluation-flow-v1"
	KeyAuthToken         = "chereh_auth_token"
	KeyLegacyAccount     = "chereh_account"
	KeyIdentity          = "chereh_identity"
	KeyMembership        = "chereh_membership"
	KeyCredential        = "chereh_credential"
	KeySecurityGate      = "chereh_security_gate"
	KeySecretSet         = "chereh_secret_set"
	KeyDeviceFingerprint = "chereh_device_fingerprint"
	KeyReferralCode      = "chereh_referral_code"
	KeyConsent           = "chereh_consent_v1"
)

// CredentialKeys are removed when the API reports the caller as unauthenticated.
var CredentialKeys = []string{
	KeyAuthToken,
	KeyLegacyAccount,
	KeyIdentity,
	KeyMembership,
	KeyCredential,
}

// SessionKeys are removed on logout.
var SessionKeys = []string{
	KeyAuthToken,
	KeyLegacyAccount,
	KeyIdentity,
	KeyMembership,
	KeyCredential,
	KeySecurityGate,
	KeySecretSet,
}
