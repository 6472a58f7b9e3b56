package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// 落盘时附加在序列化响应上的元数据头，读取后立即剥离。
const (
	keyHeaderName      = "Shellcache-Key"
	storedAtHeaderName = "Shellcache-Stored-At"
)

// encodeEntry 以 HTTP/1.1 响应报文格式写出条目，key 与写入时间放在私有头中。
func encodeEntry(w io.Writer, entry *Entry) error {
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Content-Length")
	header.Set(keyHeaderName, entry.Key)
	header.Set(storedAtHeaderName, strconv.FormatInt(entry.StoredAt.UnixNano(), 10))

	resp := &http.Response{
		StatusCode:    entry.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
	}
	return resp.Write(w)
}

// decodeEntry 解析 encodeEntry 写出的报文；withBody 为 false 时只读取头部。
func decodeEntry(r io.Reader, withBody bool) (*Entry, error) {
	resp, err := http.ReadResponse(bufio.NewReader(r), nil)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	defer resp.Body.Close()

	entry := &Entry{
		Key:    resp.Header.Get(keyHeaderName),
		Status: resp.StatusCode,
		Header: resp.Header,
	}
	if raw := resp.Header.Get(storedAtHeaderName); raw != "" {
		if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
			entry.StoredAt = time.Unix(0, nanos).UTC()
		}
	}
	entry.Header.Del(keyHeaderName)
	entry.Header.Del(storedAtHeaderName)
	entry.Header.Del("Content-Length")

	if entry.Key == "" {
		return nil, fmt.Errorf("decode cache entry: missing %s header", keyHeaderName)
	}
	if withBody {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read cache entry body: %w", err)
		}
		entry.Body = body
	}
	return entry, nil
}
