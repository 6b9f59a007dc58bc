package hub

import (
	"encoding/json"

	"github.com/prunekit/gluetune/internal/dataset"
)

// rowsResponse is one page of the dataset rows endpoint.
type rowsResponse struct {
	Features     []featureInfo `json:"features"`
	Rows         []rowEntry    `json:"rows"`
	NumRowsTotal int           `json:"num_rows_total"`
}

// featureInfo describes one column as reported by the rows endpoint.
type featureInfo struct {
	FeatureIdx int         `json:"feature_idx"`
	Name       string      `json:"name"`
	Type       featureType `json:"type"`
}

// featureType carries the column type tag: ClassLabel columns list their
// names, Value columns carry a dtype.
type featureType struct {
	Type  string   `json:"_type"`
	Dtype string   `json:"dtype,omitempty"`
	Names []string `json:"names,omitempty"`
}

// rowEntry is one example in a rows page.
type rowEntry struct {
	RowIdx int             `json:"row_idx"`
	Row    json.RawMessage `json:"row"`
}

// convertFeatures maps rows-endpoint column metadata onto dataset features.
func convertFeatures(infos []featureInfo) []dataset.Feature {
	features := make([]dataset.Feature, 0, len(infos))
	for _, info := range infos {
		switch info.Type.Type {
		case "ClassLabel":
			features = append(features, dataset.Feature{
				Name:  info.Name,
				Kind:  dataset.KindClassLabel,
				Names: info.Type.Names,
			})
		default:
			features = append(features, dataset.Feature{
				Name: info.Name,
				Kind: dataset.ParseKindHint(info.Type.Dtype),
			})
		}
	}
	return features
}

// ModelConfig is the subset of a pretrained model configuration that label
// reconciliation needs
type ModelConfig struct {
	ModelType string            `json:"model_type,omitempty"`
	Label2ID  map[string]int    `json:"label2id,omitempty"`
	ID2Label  map[string]string `json:"id2label,omitempty"`
}

// NumLabels returns the number of labels the model was configured with
func (m *ModelConfig) NumLabels() int {
	if len(m.Label2ID) > 0 {
		return len(m.Label2ID)
	}
	return len(m.ID2Label)
}
