package consensus

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/model"
)

// Extraction output layout under the extracted directory.
const (
	studyInfoDir   = "study_info"
	effectSizesDir = "effect_sizes"
	agentCodesDir  = "agent_codes"

	studyInfoSuffix  = "_study_info.json"
	effectsSuffix    = "_effects.json"
	agentCodesSuffix = "_agent_codes.json"
)

// LoadStudies merges the three extraction outputs per study ID found under
// extractedDir. A study present in any subdirectory is loaded; missing parts
// stay empty. Unreadable files are logged and skipped. Studies are returned
// sorted by ID.
func LoadStudies(extractedDir string) ([]model.StudyData, error) {
	if _, err := os.Stat(extractedDir); err != nil {
		return nil, eris.Wrapf(err, "consensus: stat %s", extractedDir)
	}

	ids := make(map[string]bool)
	for _, part := range []struct{ dir, suffix string }{
		{studyInfoDir, studyInfoSuffix},
		{effectSizesDir, effectsSuffix},
		{agentCodesDir, agentCodesSuffix},
	} {
		found, err := studyIDs(filepath.Join(extractedDir, part.dir), part.suffix)
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			ids[id] = true
		}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	studies := make([]model.StudyData, 0, len(sorted))
	for _, id := range sorted {
		studies = append(studies, loadStudy(extractedDir, id))
	}
	zap.L().Info("loaded studies for consensus", zap.Int("count", len(studies)), zap.String("dir", extractedDir))
	return studies, nil
}

func studyIDs(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "consensus: read %s", dir)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), suffix))
	}
	return ids, nil
}

func loadStudy(extractedDir, id string) model.StudyData {
	study := model.StudyData{StudyID: id}

	readPart(filepath.Join(extractedDir, studyInfoDir, id+studyInfoSuffix), &study.StudyInfo)

	var effects struct {
		EffectSizes []map[string]any `json:"effect_sizes"`
	}
	if readPart(filepath.Join(extractedDir, effectSizesDir, id+effectsSuffix), &effects) {
		study.EffectSizes = effects.EffectSizes
	}

	var agent struct {
		AgentCharacteristics map[string]any `json:"agent_characteristics"`
	}
	if readPart(filepath.Join(extractedDir, agentCodesDir, id+agentCodesSuffix), &agent) {
		study.AgentCharacteristics = agent.AgentCharacteristics
	}
	return study
}

func readPart(path string, v any) bool {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if err == nil {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		zap.L().Warn("skipping unreadable extraction file", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

// LoadRecords reads every <id>_consensus.json under dir, sorted by study ID.
func LoadRecords(dir string) ([]*model.ConsensusRecord, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*_consensus.json"))
	if err != nil {
		return nil, eris.Wrapf(err, "consensus: glob %s", dir)
	}
	sort.Strings(paths)

	records := make([]*model.ConsensusRecord, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "consensus: read %s", p)
		}
		var rec model.ConsensusRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrapf(err, "consensus: decode %s", filepath.Base(p))
		}
		records = append(records, &rec)
	}
	return records, nil
}
