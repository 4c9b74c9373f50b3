package vectorsync

import (
	"encoding/hex"
	"fmt"
	"regexp"

	"golang.org/x/crypto/blake2b"
)

// HashLength 指纹长度（十六进制字符）
const HashLength = 16

// ContentHash 内容指纹：blake2b-256 的前 16 个十六进制字符。
// 只用于相等比较，不提供完整性保证，短哈希的碰撞风险可接受。
func ContentHash(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])[:HashLength]
}

var chunkSuffix = regexp.MustCompile(`_chunk_\d+$`)

// ChunkSourceID 分块来源 ID：{baseID}_chunk_{n}
func ChunkSourceID(baseID string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", baseID, n)
}

// ExtractBaseID 去掉末尾的 _chunk_{n}，只剥离一次：
// "abc_chunk_0_chunk_1" -> "abc_chunk_0"
func ExtractBaseID(sourceID string) string {
	if loc := chunkSuffix.FindStringIndex(sourceID); loc != nil && loc[0] > 0 {
		return sourceID[:loc[0]]
	}
	return sourceID
}
