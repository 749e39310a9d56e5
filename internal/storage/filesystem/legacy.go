package filesystem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"mailalias/backend/internal/domain"
)

// ReadLegacyDatabase 读取旧版数据库文件
//
// 旧版格式是以别名为键的 JSON 对象：{"foo@bar.com": {"alias": "...", "user": "...", ...}}。
// 按文件中的键顺序返回记录，ID 清空由目标存储重新分配。
func ReadLegacyDatabase(path string) ([]domain.AliasRecord, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy database: %w", err)
	}
	return decodeLegacy(content)
}

func decodeLegacy(content []byte) ([]domain.AliasRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(content))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to parse legacy database: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("failed to parse legacy database: expected object")
	}

	var records []domain.AliasRecord
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse legacy database: %w", err)
		}
		key, _ := keyTok.(string)

		var record domain.AliasRecord
		if err := dec.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to parse legacy record %q: %w", key, err)
		}
		if record.Pattern == "" {
			record.Pattern = key
		}
		record.ID = ""
		records = append(records, record)
	}

	return records, nil
}
