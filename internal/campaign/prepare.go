package campaign

import (
	"errors"
	"fmt"
	"frbench/internal/benchinfo"
	"frbench/internal/types"
	"frbench/internal/utils"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrResultDirExists = errors.New("result directory already exists")

// Preparer sets up the shared result directory before the first trial of a
// group starts. Later trials find everything in place.
type Preparer struct {
	logger   *zap.Logger
	layout   Layout
	lookPath func(string) (string, error)
	failed   map[types.GroupKey]error
}

func NewPreparer(logger *zap.Logger, layout Layout) *Preparer {
	return &Preparer{
		logger:   logger.Named("prepare"),
		layout:   layout,
		lookPath: exec.LookPath,
		failed:   make(map[types.GroupKey]error),
	}
}

// Prepare creates the result directory for t when t is the first trial of its
// group, records the campaign metadata and copies the fuzzer inputs. Missing
// optional inputs are logged and skipped. Once the first trial failed to
// prepare, the later trials of its group fail as well.
func (p *Preparer) Prepare(t types.TrialTarget, numTrials int, start time.Time) error {
	if t.Trial != 0 {
		if err := p.failed[t.Group()]; err != nil {
			return fmt.Errorf("first trial of %s was not prepared: %w", t.Group(), err)
		}
		return nil
	}
	if err := p.prepareFirst(t, numTrials, start); err != nil {
		p.failed[t.Group()] = err
		return err
	}
	return nil
}

func (p *Preparer) prepareFirst(t types.TrialTarget, numTrials int, start time.Time) error {
	resultDir := p.layout.ResultDir(t)
	if _, err := os.Stat(resultDir); err == nil {
		return fmt.Errorf("%w: %s", ErrResultDirExists, resultDir)
	}
	elfPath, err := FindELF(p.layout.BinaryDir(t))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		return fmt.Errorf("failed to create result directory: %w", err)
	}
	if err := benchinfo.Init(resultDir, t.Fuzzer, elfPath, numTrials, t.FuzzingTime, start); err != nil {
		return fmt.Errorf("failed to write bench info: %w", err)
	}

	fuzzerDir := p.layout.FuzzerDir(t)
	logger := p.logger.With(zap.String("result_dir", resultDir))

	if strings.Contains(t.Fuzzer, "SEmu-Fuzz") {
		for _, name := range []string{"rules.txt", "cortexm_memory.yml"} {
			if err := utils.CopyFile(filepath.Join(fuzzerDir, name), filepath.Join(resultDir, name)); err != nil {
				logger.Warn("failed to copy SEmu-Fuzz input", zap.String("file", name), zap.Error(err))
			}
		}
	}

	seeds := filepath.Join(fuzzerDir, "seeds")
	if st, err := os.Stat(seeds); err == nil && st.IsDir() {
		if err := utils.CopyDir(seeds, filepath.Join(resultDir, "seeds")); err != nil {
			logger.Warn("failed to copy seeds", zap.Error(err))
		}
	}

	configs, _ := filepath.Glob(filepath.Join(fuzzerDir, "config*"))
	if err := utils.CopyInto(resultDir, configs...); err != nil {
		logger.Warn("failed to copy config files", zap.Error(err))
	}

	script := p.layout.RunnerScript(t.Fuzzer)
	if err := utils.CopyFile(script, filepath.Join(resultDir, filepath.Base(script))); err != nil {
		logger.Warn("failed to copy fuzzer runner script", zap.String("script", script), zap.Error(err))
	}

	if err := utils.CopyFile(elfPath, filepath.Join(resultDir, filepath.Base(elfPath))); err != nil {
		logger.Warn("failed to copy target binary", zap.String("elf", elfPath), zap.Error(err))
	} else {
		p.makeBin(logger, elfPath, resultDir)
	}
	return nil
}

// makeBin produces the raw flat image some fuzzers load instead of the ELF.
func (p *Preparer) makeBin(logger *zap.Logger, elfPath, resultDir string) {
	objcopy, err := p.lookPath("arm-none-eabi-objcopy")
	if err != nil {
		logger.Warn("arm-none-eabi-objcopy not found in PATH, skipping .bin creation")
		return
	}
	bin := filepath.Join(resultDir, strings.TrimSuffix(filepath.Base(elfPath), filepath.Ext(elfPath))+".bin")
	out, err := exec.Command(objcopy, "-O", "binary", elfPath, bin).CombinedOutput()
	if err != nil {
		logger.Warn("failed to create .bin from .elf", zap.Error(err), zap.ByteString("output", out))
	}
}
