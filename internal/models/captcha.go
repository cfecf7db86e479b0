package models

// CaptchaOutcome 单次验证码尝试的结果
type CaptchaOutcome string

const (
	CaptchaAccepted     CaptchaOutcome = "accepted"
	CaptchaRejected     CaptchaOutcome = "rejected"
	CaptchaSolverFailed CaptchaOutcome = "solver_failed"
)

// CaptchaAttempt 一次验证码识别与提交
// 仅在当前导航步骤内有效, 不做持久化
type CaptchaAttempt struct {
	Image   []byte         `json:"-"`
	Solved  string         `json:"solved"`
	Index   int            `json:"index"`
	Outcome CaptchaOutcome `json:"outcome"`
}
