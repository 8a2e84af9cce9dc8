package wal

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeDefault fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 適用於含帳務資料的檔案
	FileModePrivate fs.FileMode = 0600
)

// WAL 以 JSON Lines 格式追加寫入的 Write-Ahead Log
type WAL struct {
	file *os.File
	mu   sync.Mutex

	// syncFile 刷入硬碟，預設為 file.Sync
	syncFile func() error
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModePrivate)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file, syncFile: file.Sync}, nil
}

// Write 寫入一筆資料並刷入硬碟，回傳 nil 才代表資料已持久化
// 寫入或刷入失敗時截斷回寫入前的大小，不留下殘缺的紀錄
func (w *WAL) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if _, err := w.file.Write(data); err != nil {
		return errors.Join(err, w.truncate(size))
	}
	if err := w.syncFile(); err != nil {
		return errors.Join(err, w.truncate(size))
	}
	return nil
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	return w.syncFile()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}

// ReadAll 從頭讀取所有資料
// callback 接收每一筆 JSON 原始內容，避免一次將所有資料載入記憶體。
// 最後一筆若只寫了一半 (寫入途中當機，未曾回覆成功)，會被截斷丟棄。
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	var goodOffset int64
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.truncate(goodOffset)
			}
			return err
		}
		if err := callback(raw); err != nil {
			return err
		}
		goodOffset = decoder.InputOffset()
	}
}

// truncate 丟棄 offset 之後的殘缺資料
func (w *WAL) truncate(offset int64) error {
	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	return w.syncFile()
}
