// Package progress はリモートの進捗シグナルをステージごとの 0-100 の値へ写像します。
//
// どの関数も現在値を受け取り、それを下回る値は返しません。
package progress

import "math"

// DefaultCloudBand はクラウド解析に割り当てる帯域の上限です。残りは結果の取得に使います。
const DefaultCloudBand = 85

// Parse は解析ステージの帯域設定です。
type Parse struct {
	// CloudBand はクラウド解析中に到達できる最大値です（1..99）。
	CloudBand int
}

// NewParse は帯域 band の Parse を返します。範囲外なら既定値を使います。
func NewParse(band int) Parse {
	if band < 1 || band > 99 {
		band = DefaultCloudBand
	}
	return Parse{CloudBand: band}
}

func (p Parse) band() int {
	if p.CloudBand < 1 || p.CloudBand > 99 {
		return DefaultCloudBand
	}
	return p.CloudBand
}

// Cloud はクラウド側の処理率 processing (0-100) を [0, CloudBand] に写像します。
func (p Parse) Cloud(processing float64, current int) int {
	if math.IsNaN(processing) || processing < 0 {
		processing = 0
	}
	if processing > 100 {
		processing = 100
	}
	v := int(math.Floor(processing * float64(p.band()) / 100))
	return keep(current, min(v, p.band()))
}

// Succeeded はクラウド解析が完了した時点の値です。少なくとも CloudBand まで進めます。
func (p Parse) Succeeded(current int) int {
	return keep(current, p.band())
}

// Drain は結果取得の進捗 processed/total を (CloudBand, 100] に写像します。
// クラウド解析が完了していない間は現在値を返します。
// 全件取得済みでない限り 99 を超えません。
func (p Parse) Drain(processed, total int, succeeded bool, current int) int {
	if !succeeded || total <= 0 {
		return Clamp(current)
	}
	if processed > total {
		processed = total
	}
	if processed < 0 {
		processed = 0
	}
	rest := 100 - p.band()
	v := p.band() + processed*rest/total
	if processed < total && v > 99 {
		v = 99
	}
	return keep(current, v)
}

// Translation は done/total を百分率（切り捨て）にします。total が 0 なら 100 です。
func Translation(done, total int) int {
	if total <= 0 {
		return 100
	}
	if done < 0 {
		done = 0
	}
	if done > total {
		done = total
	}
	return Clamp(done * 100 / total)
}

// Clamp は v を [0, 100] に収めます。
func Clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func keep(current, next int) int {
	return Clamp(max(current, next))
}
