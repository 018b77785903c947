package shader

import (
	"sort"
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildLayoutString renders the reflected descriptor layout as a JSON
// document, for logging and debug dumps. Sets and bindings appear in index
// order.
func (s *Shader) BuildLayoutString() (string, error) {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	obj.Name("Kind").String(s.kind.String())
	obj.Name("EntryPoint").String(s.entryPoint)

	setIndices := make([]uint32, 0, len(s.sets))
	for setIndex := range s.sets {
		setIndices = append(setIndices, setIndex)
	}
	sort.Slice(setIndices, func(i, j int) bool { return setIndices[i] < setIndices[j] })

	setsObj := obj.Name("Sets").Object()
	for _, setIndex := range setIndices {
		bindings := s.sets[setIndex]

		bindingIndices := make([]uint32, 0, len(bindings))
		for bindingIndex := range bindings {
			bindingIndices = append(bindingIndices, bindingIndex)
		}
		sort.Slice(bindingIndices, func(i, j int) bool { return bindingIndices[i] < bindingIndices[j] })

		setObj := setsObj.Name(strconv.FormatUint(uint64(setIndex), 10)).Object()
		for _, bindingIndex := range bindingIndices {
			info := bindings[bindingIndex]

			bindingObj := setObj.Name(strconv.FormatUint(uint64(bindingIndex), 10)).Object()
			bindingObj.Name("Name").String(info.Name)
			bindingObj.Name("Kind").String(info.Kind.String())
			bindingObj.Name("Count").Int(int(info.Count))
			bindingObj.End()
		}
		setObj.End()
	}
	setsObj.End()
	obj.End()

	if err := writer.Error(); err != nil {
		return "", err
	}
	return string(writer.Bytes()), nil
}
