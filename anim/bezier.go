package anim

import "math"

const (
	newtonIterations     = 8
	newtonMinSlope       = 0.001
	subdivisionPrecision = 1e-7
	subdivisionMaxIter   = 12
)

// Linear 线性曲线参数
var Linear = [4]float64{0, 0, 1, 1}

func coefA(a1, a2 float64) float64 { return 1 - 3*a2 + 3*a1 }
func coefB(a1, a2 float64) float64 { return 3*a2 - 6*a1 }
func coefC(a1 float64) float64     { return 3 * a1 }

// calcBezier 给定 t 求曲线坐标
func calcBezier(t, a1, a2 float64) float64 {
	return ((coefA(a1, a2)*t+coefB(a1, a2))*t + coefC(a1)) * t
}

func slope(t, a1, a2 float64) float64 {
	return 3*coefA(a1, a2)*t*t + 2*coefB(a1, a2)*t + coefC(a1)
}

// Ease 计算 cubic-bezier(x1,y1,x2,y2) 在归一化进度 p 处的值
func Ease(b [4]float64, p float64) float64 {
	x1, y1, x2, y2 := b[0], b[1], b[2], b[3]
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	if x1 == y1 && x2 == y2 {
		return p
	}
	return calcBezier(solveT(p, x1, x2), y1, y2)
}

// solveT 反解 x(t) = x：先牛顿迭代，斜率过小时退化为二分
func solveT(x, x1, x2 float64) float64 {
	t := x
	if slope(t, x1, x2) >= newtonMinSlope {
		for i := 0; i < newtonIterations; i++ {
			s := slope(t, x1, x2)
			if s == 0 {
				return t
			}
			t -= (calcBezier(t, x1, x2) - x) / s
		}
		if math.Abs(calcBezier(t, x1, x2)-x) <= subdivisionPrecision && t >= 0 && t <= 1 {
			return t
		}
	}
	lo, hi := 0.0, 1.0
	for i := 0; i < subdivisionMaxIter*4; i++ {
		t = lo + (hi-lo)/2
		cur := calcBezier(t, x1, x2) - x
		if math.Abs(cur) <= subdivisionPrecision {
			break
		}
		if cur > 0 {
			hi = t
		} else {
			lo = t
		}
	}
	return t
}
