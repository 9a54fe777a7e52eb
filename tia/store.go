package tia

import "gonum.org/v1/gonum/floats"

// DataStore 解向量存储
// Next 为正在求解的点，Curr 为最近一次接受的解，Last 为再前一次
// 同一时刻只允许正在求解的点写 Next，提交与回滚是唯一的状态切换点
type DataStore struct {
	Next []float64
	Curr []float64
	Last []float64

	held   []float64 // Stage 之前的 Curr
	staged bool
}

// NewDataStore 创建长度为 n 的存储
func NewDataStore(n int) *DataStore {
	return &DataStore{
		Next: make([]float64, n),
		Curr: make([]float64, n),
		Last: make([]float64, n),
	}
}

// Size 未知量个数
func (d *DataStore) Size() int { return len(d.Next) }

// Commit 接受 Next 作为新的基准
func (d *DataStore) Commit() {
	if d.staged {
		copy(d.Last, d.held)
		d.staged = false
	} else {
		copy(d.Last, d.Curr)
	}
	copy(d.Curr, d.Next)
}

// Stage 同一个点内的中间解
// Next 暂作 Curr 供后续求解使用，历史不轮转，由 Commit 或 Rollback 结束
func (d *DataStore) Stage() {
	if !d.staged {
		if len(d.held) != len(d.Curr) {
			d.held = make([]float64, len(d.Curr))
		}
		copy(d.held, d.Curr)
		d.staged = true
	}
	copy(d.Curr, d.Next)
}

// Staged 是否存在未结束的中间解
func (d *DataStore) Staged() bool { return d.staged }

// Rollback 丢弃 Next 与中间解，恢复为最近接受的解
func (d *DataStore) Rollback() {
	if d.staged {
		copy(d.Curr, d.held)
		d.staged = false
	}
	copy(d.Next, d.Curr)
}

// SetZeroHistory 清零全部历史
func (d *DataStore) SetZeroHistory() {
	d.staged = false
	clear(d.Next)
	clear(d.Curr)
	clear(d.Last)
}

// SetConstantHistory 历史全部取当前解
func (d *DataStore) SetConstantHistory() {
	d.staged = false
	copy(d.Last, d.Curr)
	copy(d.Next, d.Curr)
}

// Delta 本次修正量 Next-Curr
func (d *DataStore) Delta() []float64 {
	dst := make([]float64, len(d.Next))
	return floats.SubTo(dst, d.Next, d.Curr)
}

// Snapshot 复制当前接受的解
func (d *DataStore) Snapshot() []float64 { return append([]float64(nil), d.Curr...) }
