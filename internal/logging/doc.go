// Package logging provides leveled, printf-style logging for the whole
// process, backed by zap. Call Init once after configuration is loaded;
// before that a console logger at info level is active.
package logging
