package world

import "timewarp/patch"

// Mutation 作用于世界的底层操作，由意图翻译而来
type Mutation interface {
	mutation()
}

// IncBy 数值加
type IncBy struct {
	Path   string
	Amount float64
}

// DecBy 数值减
type DecBy struct {
	Path   string
	Amount float64
}

// ApplyCommand 直接应用路径命令
type ApplyCommand struct {
	Command patch.Command
}

// HitScan 射线检测：从 From 沿 Direction，角度差恰为 0 判定命中
type HitScan struct {
	Shooter   string
	From      Vector2
	Direction Vector2
}

// StopAnimation 结束动画：Finished 时写入终值，否则冻结当前插值
type StopAnimation struct {
	Path     string
	Finished bool
}

func (IncBy) mutation()         {}
func (DecBy) mutation()         {}
func (ApplyCommand) mutation()  {}
func (HitScan) mutation()       {}
func (StopAnimation) mutation() {}

// Proposal 一次原子提交的变更列表；SkipStep 表示不登记历史步
type Proposal struct {
	Mutations []Mutation
	SkipStep  bool
}
