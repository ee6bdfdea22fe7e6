package jobs

import (
	"context"
	"errors"
	"fmt"
)

// ErrRejected は実行中・停止中などの理由で投入が受け付けられなかったことを表します。
var ErrRejected = errors.New("submission rejected")

// Dispatcher はタスクをステージの実行へ引き渡します。
type Dispatcher interface {
	Dispatch(ctx context.Context, stage Stage, taskID string) error
}

// Direct はプロセス内の Orchestrator へ直接投入する Dispatcher です。
type Direct map[Stage]*Orchestrator

// NewDirect は orchestrators をステージごとにまとめます。
func NewDirect(orchestrators ...*Orchestrator) Direct {
	d := make(Direct, len(orchestrators))
	for _, o := range orchestrators {
		d[o.Stage()] = o
	}
	return d
}

// Dispatch は stage の Orchestrator に taskID を投入します。
func (d Direct) Dispatch(_ context.Context, stage Stage, taskID string) error {
	o, ok := d[stage]
	if !ok {
		return fmt.Errorf("no orchestrator for stage %q", stage)
	}
	if !o.Submit(taskID) {
		return ErrRejected
	}
	return nil
}

// InFlight は stage で taskID が待機中または実行中かを返します。
func (d Direct) InFlight(stage Stage, taskID string) bool {
	o, ok := d[stage]
	return ok && o.InFlight(taskID)
}
