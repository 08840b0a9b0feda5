// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Policy 分数衰减策略
type Policy string

const (
	PolicyStandard    Policy = "Standard"    // 固定分值
	PolicyLinear      Policy = "Linear"      // 线性衰减
	PolicyLogarithmic Policy = "Logarithmic" // 抛物线衰减
)

// ErrConfiguration 题目分值参数非法（只在创建/编辑时返回，计分时不会出现）
var ErrConfiguration = errors.New("invalid scoring configuration")

// Params 题目计分参数
type Params struct {
	Policy       Policy `json:"scoringPolicy" yaml:"scoringPolicy"`
	InitialValue int    `json:"initialValue" yaml:"initialValue"`
	DecayRate    int    `json:"decayRate" yaml:"decayRate"`
	MinimumValue int    `json:"minimumValue" yaml:"minimumValue"`
}

// ParsePolicy 解析策略名（大小写不敏感）
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return PolicyStandard, nil
	case "linear":
		return PolicyLinear, nil
	case "logarithmic":
		return PolicyLogarithmic, nil
	}
	return "", fmt.Errorf("%w: unknown scoring policy %q", ErrConfiguration, s)
}

// Validate 校验参数，保证分值随解题人数单调不增且不低于最低分
func Validate(p Params) error {
	if p.InitialValue < 0 {
		return fmt.Errorf("%w: initialValue must not be negative", ErrConfiguration)
	}
	switch p.Policy {
	case PolicyStandard:
		return nil
	case PolicyLinear:
		if p.DecayRate < 0 {
			return fmt.Errorf("%w: decayRate must not be negative", ErrConfiguration)
		}
	case PolicyLogarithmic:
		if p.DecayRate <= 0 {
			return fmt.Errorf("%w: decayRate must be positive for Logarithmic", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown scoring policy %q", ErrConfiguration, p.Policy)
	}
	if p.MinimumValue < 0 {
		return fmt.Errorf("%w: minimumValue must not be negative", ErrConfiguration)
	}
	if p.MinimumValue > p.InitialValue {
		return fmt.Errorf("%w: minimumValue %d exceeds initialValue %d", ErrConfiguration, p.MinimumValue, p.InitialValue)
	}
	return nil
}

// Award 第 solveIndex 位（从1开始）解题者获得的分值
func Award(p Params, solveIndex int) int {
	if solveIndex < 1 {
		solveIndex = 1
	}
	switch p.Policy {
	case PolicyLinear:
		return linearValue(p, solveIndex)
	case PolicyLogarithmic:
		return logarithmicValue(p, solveIndex)
	default:
		return standardValue(p)
	}
}

// Next 已有 solved 人解出后，下一位解题者将获得的分值（即题目 currentValue）
func Next(p Params, solved int) int {
	return Award(p, solved+1)
}

func standardValue(p Params) int {
	return p.InitialValue
}

// linearValue max(I - D*N, M)
func linearValue(p Params, n int) int {
	if p.DecayRate > 0 && int64(n) > int64(p.InitialValue-p.MinimumValue)/int64(p.DecayRate) {
		return p.MinimumValue
	}
	v := int64(p.InitialValue) - int64(p.DecayRate)*int64(n)
	if v < int64(p.MinimumValue) {
		return p.MinimumValue
	}
	return int(v)
}

// logarithmicValue max(((M - I) / D^2) * N^2 + I, M)
// N >= D 时曲线已到达最低分
func logarithmicValue(p Params, n int) int {
	if p.DecayRate <= 0 || n >= p.DecayRate {
		return p.MinimumValue
	}
	d := float64(p.DecayRate)
	x := float64(n)
	v := int(math.Round(float64(p.MinimumValue-p.InitialValue)/(d*d)*x*x + float64(p.InitialValue)))
	if v < p.MinimumValue {
		return p.MinimumValue
	}
	return v
}
