package model

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/optim"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// CheckpointVersion はチェックポイント形式のバージョン（互換性チェック用）
const CheckpointVersion = "sed-ckpt/1"

// TrainerState はエポック進行とコールバックの状態
type TrainerState struct {
	// Epoch は最後に完了したエポック（0始まり、未学習なら-1）
	Epoch int

	// GlobalStep はオプティマイザのステップ数
	GlobalStep int

	// EarlyStopWait は改善のなかった検証回数
	EarlyStopWait int

	// EarlyStopBest はEarlyStoppingが観測した最良値
	EarlyStopBest float64

	// HasBest は最良値が一度でも記録されたか
	HasBest bool

	// BestModelPath は保持している最良チェックポイントのパス
	BestModelPath string

	// BestModelScore はそのチェックポイントの目的指標値
	BestModelScore float64
}

// Checkpoint は学習の再開とテストに必要なすべてを束ねたもの
type Checkpoint struct {
	Version string

	// HyperParameters は学習時の設定全体
	HyperParameters config.Config

	// StateDict は学生モデルのパラメータ
	StateDict StateDict

	// TeacherStateDict はEMA教師モデルのパラメータ
	TeacherStateDict StateDict

	Optimizer optim.AdamState
	Scheduler optim.WarmupState
	Trainer   TrainerState
}

// SaveCheckpoint はチェックポイントをファイルに保存する
//
// 一時ファイルに書き込んでからリネームするため、途中で失敗しても
// 既存のファイルは壊れない。
//
// パラメータ:
//   - ckpt: 保存するチェックポイント
//   - filename: 保存先のファイルパス
//
// 戻り値:
//   - error: 保存に失敗した場合の*errors.CheckpointError
//
// 使用例:
//
//	err := model.SaveCheckpoint(ckpt, "exp/version_0/epoch=9-step=2630.ckpt")
func SaveCheckpoint(ckpt *Checkpoint, filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewCheckpointError("save", filename, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return errors.NewCheckpointError("save", filename, err)
	}
	name := tmp.Name()

	w := bufio.NewWriter(tmp)
	err = SaveCheckpointToWriter(ckpt, w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(name, filename)
	}
	if err != nil {
		os.Remove(name)
		return errors.NewCheckpointError("save", filename, err)
	}
	return nil
}

// LoadCheckpoint はファイルからチェックポイントを読み込む
//
// パラメータ:
//   - filename: 読み込み元のファイルパス
//
// 戻り値:
//   - *Checkpoint: 読み込んだチェックポイント
//   - error: ファイルが存在しない・壊れている・形式が異なる場合の*errors.CheckpointError
func LoadCheckpoint(filename string) (*Checkpoint, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.NewCheckpointError("load", filename, err)
	}
	defer file.Close()

	ckpt, err := LoadCheckpointFromReader(bufio.NewReader(file))
	if err != nil {
		return nil, errors.NewCheckpointError("load", filename, err)
	}
	return ckpt, nil
}

// SaveCheckpointToWriter はチェックポイントをio.Writerにgob形式で書き込む
func SaveCheckpointToWriter(ckpt *Checkpoint, w io.Writer) error {
	if ckpt.Version == "" {
		ckpt.Version = CheckpointVersion
	}
	if err := gob.NewEncoder(w).Encode(ckpt); err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	return nil
}

// LoadCheckpointFromReader はio.Readerからチェックポイントを読み込み、形式を検証する
func LoadCheckpointFromReader(r io.Reader) (*Checkpoint, error) {
	var ckpt Checkpoint
	if err := gob.NewDecoder(r).Decode(&ckpt); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	if ckpt.Version != CheckpointVersion {
		return nil, errors.Newf("unsupported checkpoint version %q", ckpt.Version)
	}
	if err := ckpt.StateDict.Validate(); err != nil {
		return nil, errors.Wrap(err, "state_dict")
	}
	if err := ckpt.TeacherStateDict.Validate(); err != nil {
		return nil, errors.Wrap(err, "teacher state_dict")
	}
	return &ckpt, nil
}
