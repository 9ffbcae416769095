package model

import "strings"

// CaptchaSeverity 是挑战分类器给出的严重程度。
type CaptchaSeverity string

const (
	SeverityNone    CaptchaSeverity = "none"
	SeveritySimple  CaptchaSeverity = "simple"
	SeverityPuzzle  CaptchaSeverity = "puzzle"
	SeverityComplex CaptchaSeverity = "complex"
	SeverityOther   CaptchaSeverity = "other"
)

// ParseCaptchaSeverity maps classifier output onto the closed set.
// Empty input means no challenge; anything unrecognised is "other".
func ParseCaptchaSeverity(s string) CaptchaSeverity {
	switch CaptchaSeverity(strings.ToLower(strings.TrimSpace(s))) {
	case "", SeverityNone:
		return SeverityNone
	case SeveritySimple:
		return SeveritySimple
	case SeverityPuzzle:
		return SeverityPuzzle
	case SeverityComplex:
		return SeverityComplex
	default:
		return SeverityOther
	}
}

// IsChallenge reports whether the severity counts as a captcha encounter.
func (s CaptchaSeverity) IsChallenge() bool {
	return s != SeverityNone && s != ""
}

// QualityLevel 是根据历史验证码率离散化的质量等级。
type QualityLevel string

const (
	LevelPremium QualityLevel = "PREMIUM"
	LevelGood    QualityLevel = "GOOD"
	LevelAverage QualityLevel = "AVERAGE"
	LevelPoor    QualityLevel = "POOR"
	LevelBanned  QualityLevel = "BANNED"
)

// AllLevels lists the levels best first.
var AllLevels = []QualityLevel{LevelPremium, LevelGood, LevelAverage, LevelPoor, LevelBanned}

// Usable reports whether a record at this level may be selected outside the fallback path.
func (l QualityLevel) Usable() bool {
	return l != LevelBanned
}
