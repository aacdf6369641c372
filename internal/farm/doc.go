// Package farm 实现无需协商、直接执行 "make me X" 指令的 Farm agent。
package farm
