package packet

import (
	"fmt"
	"strings"
)

// Environment the server runs in, as reported to clients.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentDevelopment Environment = "development"
)

// FeatureFlag names a feature enabled on the server.
type FeatureFlag string

const (
	FeatureExperimental FeatureFlag = "enableExperimentalFeatures"
	FeatureDebugMode    FeatureFlag = "enableDebugMode"
)

// EnforcedStateName names a boolean flag the server enforces on the client.
type EnforcedStateName string

const (
	// EnforcedCanHome controls whether the player may return home.
	EnforcedCanHome EnforcedStateName = "can_home"
)

// SceneName names a client view the server can force.
type SceneName string

const (
	SceneIntro SceneName = "intro"
)

// KickReason explains a server-initiated disconnect.
type KickReason string

const (
	KickSessionInvalidated KickReason = "session-invalidated"
)

// ErrorCode identifies an "error" packet.
type ErrorCode string

const (
	ErrorInvalidFormat         ErrorCode = "invalid-format"
	ErrorInternal              ErrorCode = "internal-error"
	ErrorInvalidAccessToken    ErrorCode = "invalid-access-token"
	ErrorSessionExpired        ErrorCode = "session-expired"
	ErrorAuthenticationTimeout ErrorCode = "authentication-timeout"
	ErrorClientAlreadyReady    ErrorCode = "client-already-ready"
	ErrorUnauthorized          ErrorCode = "unauthorized"
	ErrorRateLimited           ErrorCode = "rate-limited"
)

// WarningCode identifies a "warning" packet.
type WarningCode string

const (
	WarningMissingAccessToken WarningCode = "missing-access-token"
)

// CosmeticType identifies a cosmetic item.
type CosmeticType string

const (
	CosmeticBasicBrownHair CosmeticType = "basic_brown_hair"
	CosmeticLeatherCap     CosmeticType = "leather_cap"
	CosmeticFriendlySmile  CosmeticType = "friendly_smile"
	CosmeticSimpleShirt    CosmeticType = "simple_shirt"
	CosmeticBasicPants     CosmeticType = "basic_pants"
	CosmeticBrownBoots     CosmeticType = "brown_boots"
	CosmeticLeatherGloves  CosmeticType = "leather_gloves"
)

var (
	environments       = []Environment{EnvironmentProduction, EnvironmentDevelopment}
	featureFlags       = []FeatureFlag{FeatureExperimental, FeatureDebugMode}
	enforcedStateNames = []EnforcedStateName{EnforcedCanHome}
	sceneNames         = []SceneName{SceneIntro}
	kickReasons        = []KickReason{KickSessionInvalidated}
	warningCodes       = []WarningCode{WarningMissingAccessToken}
	errorCodes         = []ErrorCode{
		ErrorInvalidFormat,
		ErrorInternal,
		ErrorInvalidAccessToken,
		ErrorSessionExpired,
		ErrorAuthenticationTimeout,
		ErrorClientAlreadyReady,
		ErrorUnauthorized,
		ErrorRateLimited,
	}
	cosmeticTypes      = []CosmeticType{
		CosmeticBasicBrownHair,
		CosmeticLeatherCap,
		CosmeticFriendlySmile,
		CosmeticSimpleShirt,
		CosmeticBasicPants,
		CosmeticBrownBoots,
		CosmeticLeatherGloves,
	}
)

// checkEnum returns an issue when value is not one of options.
func checkEnum[T ~string](path string, value T, options []T) []Issue {
	quoted := make([]string, len(options))
	for i, option := range options {
		if value == option {
			return nil
		}
		quoted[i] = "'" + string(option) + "'"
	}
	return []Issue{{
		Path:    path,
		Message: fmt.Sprintf("Invalid enum value. Expected %s, received '%s'", strings.Join(quoted, " | "), value),
	}}
}
